// Package wire decodes the fragile text formats that come back from a
// generator: sentinel markers splitting user-visible text from embedded
// structured intent, and JSON objects buried in prose or code fences.
// Decode failures are expected, not exceptional; callers treat them as
// recoverable and re-prompt.
package wire

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SplitMarker splits a generator's output on the first occurrence of
// marker. The user-visible text is everything before the marker,
// trimmed; tail is everything after it, trimmed. found reports whether
// the marker was present at all.
func SplitMarker(output, marker string) (userText, tail string, found bool) {
	idx := strings.Index(output, marker)
	if idx < 0 {
		return strings.TrimSpace(output), "", false
	}
	userText = strings.TrimSpace(output[:idx])
	tail = strings.TrimSpace(output[idx+len(marker):])
	return userText, tail, true
}

// ExtractJSON extracts a JSON object from text that may contain
// markdown fences or surrounding prose. Returns "" when no object is
// found.
func ExtractJSON(text string) string {
	// Prefer fenced blocks.
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+7:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	// Fall back to brace matching, string-aware.
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	pyLiteralRe     = regexp.MustCompile(`\b(None|True|False)\b`)
)

// repair applies the lenient fixes needed for model-emitted JSON:
// python literals, trailing commas, line comments, single-quoted keys
// and values.
func repair(s string) string {
	s = lineCommentRe.ReplaceAllString(s, "")
	s = pyLiteralRe.ReplaceAllStringFunc(s, func(m string) string {
		switch m {
		case "None":
			return "null"
		case "True":
			return "true"
		default:
			return "false"
		}
	})
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		// Single-quoted throughout; safe to swap wholesale.
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return s
}

// DecodeObject extracts and unmarshals a JSON object from text,
// applying lenient repair on the first parse failure.
func DecodeObject(text string) (map[string]interface{}, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in output")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, nil
	}
	repaired := repair(raw)
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, fmt.Errorf("unparseable JSON object: %w", err)
	}
	return obj, nil
}

// Truncate shortens s to max runes for logs and sentinel fills.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
