package modelclient

import (
	"encoding/json"
	"strings"

	"planscope/errs"
)

// ExtractJSON implements the tolerant JSON extraction pipeline every
// CompleteJSON adapter shares: try raw JSON, then strip Markdown code
// fences, then extract the first balanced `{...}` span, then repair
// truncated objects by appending missing closers. It fails with an
// errs.ModelClientErr error only once every strategy has been tried.
func ExtractJSON(raw string) (map[string]any, error) {
	candidates := []string{
		strings.TrimSpace(raw),
		stripFences(raw),
	}
	if span := firstBalancedObject(raw); span != "" {
		candidates = append(candidates, span)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal([]byte(c), &v); err == nil {
			return v, nil
		}
	}
	// Last resort: repair a truncated candidate by closing unmatched
	// braces/brackets, preferring the balanced-object span when present.
	repairCandidate := firstBalancedObject(raw)
	if repairCandidate == "" {
		repairCandidate = stripFences(raw)
	}
	if repaired := repairTruncated(repairCandidate); repaired != "" {
		var v map[string]any
		if err := json.Unmarshal([]byte(repaired), &v); err == nil {
			return v, nil
		}
	}
	return nil, errs.New(errs.ModelClientErr, "could not extract JSON object from model response")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstBalancedObject scans s for the first top-level balanced `{...}` span,
// respecting string literals and escape sequences so braces inside strings
// do not throw off the brace counter.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

// repairTruncated appends whatever closers are needed to balance braces,
// brackets, and an open string literal in s, producing a best-effort
// complete JSON document from a truncated model response.
func repairTruncated(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	s = s[start:]

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	// Trim a dangling comma before closing, which a truncated
	// response commonly leaves behind.
	trimmed := strings.TrimRight(b.String(), " \t\n\r")
	trimmed = strings.TrimRight(trimmed, ",")
	b.Reset()
	b.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
