package oracle

import (
	"encoding/json"
	"strings"
)

// DecodeInto decodes untrusted oracle content into v. Extraction order:
//  1. direct parse of the whole content
//  2. parse after stripping Markdown code fences
//  3. parse the first balanced {...} block
//
// A failure of all three yields a *ParseError, which callers treat as an
// oracle failure (bounded retry, then escalation).
func DecodeInto(content string, v interface{}) error {
	trimmed := strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	if stripped, ok := stripCodeFences(trimmed); ok {
		if err := json.Unmarshal([]byte(stripped), v); err == nil {
			return nil
		}
	}

	if block, ok := firstBalancedObject(trimmed); ok {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return nil
		}
		return &ParseError{Hint: "balanced object found but schema mismatch"}
	}

	return &ParseError{Hint: "no JSON object found in content"}
}

// stripCodeFences removes a leading ```json (or bare ```) fence and its
// closing fence.
func stripCodeFences(s string) (string, bool) {
	for _, fence := range []string{"```json", "```JSON", "```"} {
		idx := strings.Index(s, fence)
		if idx == -1 {
			continue
		}
		rest := s[idx+len(fence):]
		if end := strings.Index(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// firstBalancedObject scans for the first top-level {...} block, tracking
// string literals and escapes so braces inside strings do not miscount.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
