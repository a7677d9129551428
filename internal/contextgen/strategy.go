package contextgen

import "regexp"

var (
	codeTokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\w+\s*\([^)]*\)`),        // function-like: foo(bar)
		regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*[A-Z]\w*\b`), // class-like: CamelCase
		regexp.MustCompile(`\bimport\s+[\w./"'-]+`),     // import-like
		regexp.MustCompile(`\b\w+(\.\w+){2,}\b`),         // dotted identifiers: pkg.sub.Name
		regexp.MustCompile(`\b(GET|POST|PUT|PATCH|DELETE)\s+/\S*`), // API-endpoint phrasing
	}

	conceptualPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bhow\s+to\b`),
		regexp.MustCompile(`(?i)\bwhat\s+is\b`),
		regexp.MustCompile(`(?i)\bexplain\b`),
		regexp.MustCompile(`(?i)\bpattern\b`),
		regexp.MustCompile(`(?i)\barchitecture\b`),
		regexp.MustCompile(`(?i)\bbest[\s-]practice`),
		regexp.MustCompile(`(?i)\bwhy\s+(should|does|do|would)\b`),
	}
)

// SelectStrategy chooses keyword when the task reads like code, semantic
// when it reads like conceptual prose, and hybrid otherwise.
func SelectStrategy(task string) Strategy {
	for _, p := range codeTokenPatterns {
		if p.MatchString(task) {
			return StrategyKeyword
		}
	}
	for _, p := range conceptualPatterns {
		if p.MatchString(task) {
			return StrategySemantic
		}
	}
	return StrategyHybrid
}
