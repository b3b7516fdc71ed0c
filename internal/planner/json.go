package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedBlockRe extracts the body of the first ```...``` fenced code block,
// optionally tagged with a language (```json).
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// tolerantUnmarshal decodes v from raw in three stages, matching the
// teacher's decode-then-degrade idiom: a direct parse, then the contents
// of the first fenced code block, then the first balanced {...} or [...]
// span found anywhere in the text.
func tolerantUnmarshal(raw string, v any) error {
	trimmed := strings.TrimSpace(raw)

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		candidate := strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	if span, ok := firstBalancedSpan(trimmed); ok {
		if err := json.Unmarshal([]byte(span), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("planner: could not extract JSON from model response")
}

// firstBalancedSpan scans for the first '{' or '[' and returns the text up
// to its matching close, honouring string literals and escapes so braces
// inside quoted text don't confuse the balance count.
func firstBalancedSpan(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
