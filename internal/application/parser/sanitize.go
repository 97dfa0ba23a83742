package parser

import (
	"regexp"
	"strings"
)

// escapeRx matches the <<token>> wrapper prompts ask the model to use
// around inline code so it survives inside JSON strings.
var escapeRx = regexp.MustCompile(`<<(.*?)>>`)

// RestoreEscapes turns every <<token>> into `token`.
func RestoreEscapes(s string) string {
	return escapeRx.ReplaceAllString(s, "`${1}`")
}

// ExtractObject cuts the first JSON object out of s, dropping any prose
// around it. The span ends at the brace that balances the first '{'; when
// the object never closes the last '}' in s is used instead. Text without
// any '{' is returned untouched.
func ExtractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	if end := balancedEnd(s, start); end >= 0 {
		return s[start : end+1]
	}
	if end := strings.LastIndexByte(s, '}'); end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// Sanitize applies RestoreEscapes then ExtractObject.
func Sanitize(raw string) string {
	return ExtractObject(RestoreEscapes(raw))
}

func balancedEnd(s string, start int) int {
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
				return i
			}
		}
	}
	return -1
}
