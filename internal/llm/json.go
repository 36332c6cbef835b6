package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ParseJSON decodes a JSON value of type T from model output. Models wrap
// JSON in markdown fences or surround it with prose often enough that a
// plain Unmarshal is tried first and progressively cleaned forms after.
func ParseJSON[T any](raw string) (T, error) {
	var result T
	for _, candidate := range candidates(raw) {
		if err := json.Unmarshal([]byte(candidate), &result); err == nil {
			return result, nil
		}
	}
	var zero T
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return zero, fmt.Errorf("failed to parse JSON response: %s", raw)
}

// candidates yields the raw text, the fence content if fenced, and the
// outermost bracketed span.
func candidates(raw string) []string {
	out := []string{raw}

	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
		out = append(out, s)
	}

	if span := bracketSpan(s); span != "" {
		out = append(out, span)
	}
	return out
}

// bracketSpan returns the substring from the first opening brace or bracket
// to its matching last closer, or "" when no plausible span exists.
func bracketSpan(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
