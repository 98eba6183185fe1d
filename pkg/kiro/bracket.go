package kiro

import (
	"strings"
)

// bracketCall is one tool call a model wrote into its text as
// "[tool_call: name(args)]" instead of using the tool-use event.
type bracketCall struct {
	name string
	args string
}

// scanBracketCalls extracts bracket-style tool calls from a completed text
// span. It returns the text with the call spans removed and the calls in
// order of appearance. Spans split across frames are not recognized; the
// syntax only appears in short single-chunk emissions.
func scanBracketCalls(text string) (string, []bracketCall) {
	if !strings.Contains(text, "[tool_call:") {
		return text, nil
	}

	var calls []bracketCall
	var kept strings.Builder
	rest := text

	for {
		start := strings.Index(rest, "[tool_call:")
		if start < 0 {
			kept.WriteString(rest)
			break
		}

		name, args, end, ok := parseBracketCall(rest[start:])
		if !ok {
			// Not a well-formed call; keep the literal text and move past
			// the marker so scanning terminates.
			kept.WriteString(rest[:start+len("[tool_call:")])
			rest = rest[start+len("[tool_call:"):]
			continue
		}

		kept.WriteString(rest[:start])
		calls = append(calls, bracketCall{name: name, args: args})
		rest = rest[start+end:]
	}

	return kept.String(), calls
}

// parseBracketCall parses one "[tool_call: name(args)]" starting at the
// beginning of s. It returns the name, the raw args, and the length of the
// consumed span. Parentheses inside quoted strings do not affect nesting.
func parseBracketCall(s string) (name, args string, length int, ok bool) {
	inner := s[len("[tool_call:"):]

	i := 0
	for i < len(inner) && (inner[i] == ' ' || inner[i] == '\t') {
		i++
	}

	nameStart := i
	for i < len(inner) && isToolNameChar(inner[i], i == nameStart) {
		i++
	}
	if i == nameStart || i >= len(inner) || inner[i] != '(' {
		return "", "", 0, false
	}
	name = inner[nameStart:i]

	argsStart := i + 1
	depth := 1
	var quote byte
	escaped := false
	j := argsStart
	for ; j < len(inner); j++ {
		c := inner[j]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case quote != 0:
			if c == '\\' {
				escaped = true
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				if j+1 < len(inner) && inner[j+1] == ']' {
					args = inner[argsStart:j]
					return name, args, len("[tool_call:") + j + 2, true
				}
				return "", "", 0, false
			}
		}
	}
	return "", "", 0, false
}

func isToolNameChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case !first && (c >= '0' && c <= '9' || c == '-'):
		return true
	default:
		return false
	}
}
