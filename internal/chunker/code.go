package chunker

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conexus-oss/docindex/internal/doctype"
)

// chunkSourceCode scans for language-specific function/class/struct/impl
// declarations and gathers each with its balanced body into one code
// fragment, falling back to plain-text chunking when none are found.
// Go files are parsed with go/ast for exact declaration boundaries; other
// brace-delimited languages use a brace-counting scanner
// idiom, since a full parser per language is out of scope.
func chunkSourceCode(content, filePath string, cfg Config) []*doctype.Fragment {
	ext := strings.ToLower(filepath.Ext(filePath))

	var fragments []*doctype.Fragment
	switch ext {
	case ".go":
		fragments = chunkGoSource(content, filePath)
	default:
		fragments = chunkBraceDelimited(content)
	}

	if len(fragments) == 0 {
		return chunkPlainText(content, cfg)
	}
	return fragments
}

func chunkGoSource(content, filePath string) []*doctype.Fragment {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		return nil
	}

	lines := strings.Split(content, "\n")
	var fragments []*doctype.Fragment

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			start := fset.Position(d.Pos()).Line
			end := fset.Position(d.End()).Line
			if start < 1 || end > len(lines) {
				continue
			}
			f := newFragment(doctype.FragmentCode, strings.Join(lines[start-1:end], "\n"), start, end)
			f.Metadata["declarationName"] = d.Name.Name
			if recv := receiverName(d); recv != "" {
				f.Metadata["receiver"] = recv
			}
			fragments = append(fragments, f)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				start := fset.Position(ts.Pos()).Line
				end := fset.Position(ts.End()).Line
				if start < 1 || end > len(lines) {
					continue
				}
				f := newFragment(doctype.FragmentCode, strings.Join(lines[start-1:end], "\n"), start, end)
				f.Metadata["declarationName"] = ts.Name.Name
				fragments = append(fragments, f)
			}
		}
	}

	return fragments
}

func receiverName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	switch t := fn.Recv.List[0].Type.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		if ident, ok := t.X.(*ast.Ident); ok {
			return ident.Name
		}
	}
	return ""
}

var declarationRe = regexp.MustCompile(
	`^\s*(?:public|private|protected|static|export|default|async|fn|func|def|struct|class|impl|interface|type)[\s\w:<>,()*&\[\].]*?\b(\w+)\s*[({]`)

// chunkBraceDelimited is a language-agnostic scanner: a declaration-looking
// line opens a new fragment, brace counting tracks its body extent, and
// the fragment closes when braces balance back to zero.
func chunkBraceDelimited(content string) []*doctype.Fragment {
	lines := strings.Split(content, "\n")
	var fragments []*doctype.Fragment

	var buf []string
	bufStart := 0
	braceCount := 0
	inDecl := false

	flush := func(endLine int) {
		if len(buf) == 0 {
			return
		}
		fragments = append(fragments, newFragment(doctype.FragmentCode, strings.Join(buf, "\n"), bufStart, endLine))
		buf = nil
		inDecl = false
	}

	for i, line := range lines {
		lineNum := i + 1
		opens := strings.Count(line, "{")
		closes := strings.Count(line, "}")

		if !inDecl {
			if m := declarationRe.FindStringSubmatch(line); m != nil && !strings.Contains(line, ";") {
				flush(lineNum - 1)
				bufStart = lineNum
				inDecl = true
				braceCount = 0
			}
		}

		if inDecl {
			buf = append(buf, line)
			braceCount += opens - closes
			if braceCount <= 0 && opens+closes > 0 {
				flush(lineNum)
			}
		}
	}
	flush(len(lines))

	return fragments
}
