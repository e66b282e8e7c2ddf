package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LocateJSON finds a JSON object inside free text (the capability often
// wraps its answer in prose or markdown fences). If the object is
// truncated or mildly malformed it attempts a best-effort repair.
// The second return reports whether repair was needed.
func LocateJSON(text string) (json.RawMessage, bool, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false, fmt.Errorf("no json object found in response")
	}

	candidate := balancedObject(text[start:])
	if candidate != "" && json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), false, nil
	}

	// No balanced object: take everything from the first brace (dropping a
	// trailing markdown fence if present) and repair it.
	tail := text[start:]
	if i := strings.LastIndex(tail, "```"); i > 0 {
		tail = tail[:i]
	}
	repaired := repairJSON(tail)
	if json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired), true, nil
	}
	return nil, false, fmt.Errorf("response contained no parseable json object")
}

// balancedObject returns the prefix of s forming a balanced JSON object,
// or "" when s ends before the object closes.
func balancedObject(s string) string {
	depth := 0
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// repairJSON closes an unterminated string, strips a dangling comma or
// partial key, and appends the closers for any still-open objects and
// arrays, in nesting order.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)

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
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}

	// Drop a trailing comma or a dangling `"key":` with no value.
	s = strings.TrimRight(s, " \t\n\r")
	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
	} else if strings.HasSuffix(s, ":") {
		s = strings.TrimRight(s[:len(s)-1], " \t\n\r")
		if i := strings.LastIndexByte(s, '"'); i >= 0 {
			if j := strings.LastIndexByte(s[:i], '"'); j >= 0 {
				s = strings.TrimRight(s[:j], " \t\n\r,")
			}
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}
