package chunker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conexus-oss/docindex/internal/doctype"
)

// chunkStructured parses yaml/json into a tree. If the whole serialized
// form fits within the maximum fragment size it is emitted as a single
// structured fragment; otherwise it recurses into child mappings, emitting
// one fragment per mapping value with its dotted-key path as metadata.
// Parse failure falls back to plain-text chunking.
func chunkStructured(content string, kind doctype.DocumentKind, cfg Config) []*doctype.Fragment {
	tree, err := parseTree(content, kind)
	if err != nil {
		return chunkPlainText(content, cfg)
	}

	if len(content) <= cfg.MaxFragmentSize {
		f := newFragment(doctype.FragmentStructuredNode, content, 1, strings.Count(content, "\n")+1)
		f.Metadata["keyPath"] = ""
		return []*doctype.Fragment{f}
	}

	m, ok := tree.(map[string]interface{})
	if !ok {
		// Not a mapping at the root (e.g. a bare list or scalar); emit as
		// plain text since there is nothing to recurse into.
		return chunkPlainText(content, cfg)
	}

	var fragments []*doctype.Fragment
	line := 1
	var walk func(m map[string]interface{}, prefix string)
	walk = func(m map[string]interface{}, prefix string) {
		for _, key := range sortedKeys(m) {
			value := m[key]
			serialized := serializeValue(value, kind)
			path := escapeKeyPathSegment(key)
			if prefix != "" {
				path = prefix + "." + path
			}

			if child, ok := value.(map[string]interface{}); ok && len(child) > 0 && len(serialized) > cfg.MaxFragmentSize {
				walk(child, path)
				continue
			}
			for _, f := range splitOversize(doctype.FragmentStructuredNode, serialized, line, cfg) {
				f.Metadata["keyPath"] = path
				fragments = append(fragments, f)
			}
			line += strings.Count(serialized, "\n") + 1
		}
	}
	walk(m, "")

	if len(fragments) == 0 {
		return chunkPlainText(content, cfg)
	}
	return fragments
}

func parseTree(content string, kind doctype.DocumentKind) (interface{}, error) {
	var out interface{}
	var err error
	if kind == doctype.KindJSON {
		err = json.Unmarshal([]byte(content), &out)
	} else {
		err = yaml.Unmarshal([]byte(content), &out)
	}
	if err != nil {
		return nil, err
	}
	return normalizeTree(out), nil
}

// normalizeTree converts yaml.v3's map[interface{}]interface{} nodes (from
// older decode paths) and its native map[string]interface{} into a
// consistent map[string]interface{} shape for key iteration.
func normalizeTree(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeTree(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeTree(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeTree(val)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// escapeKeyPathSegment escapes dots within a key so a dotted-key path built
// by joining segments with "." stays unambiguous.
func escapeKeyPathSegment(key string) string {
	return strings.ReplaceAll(key, ".", "\\.")
}

func serializeValue(v interface{}, kind doctype.DocumentKind) string {
	if kind == doctype.KindJSON {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(string(b), "\n")
}
