package generation

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a completion carries no parseable JSON value.
var ErrNoJSON = errors.New("no JSON found in response")

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// ParseJSONOutput extracts the first JSON object or array from model text. It
// accepts fenced blocks and surrounding prose, and repairs trailing commas and
// unquoted keys.
func ParseJSONOutput(text string) (json.RawMessage, error) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	candidate := outermost(text)
	if candidate == "" {
		return nil, ErrNoJSON
	}
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}
	fixed := fixJSON(candidate)
	if !json.Valid([]byte(fixed)) {
		return nil, ErrNoJSON
	}
	return json.RawMessage(fixed), nil
}

// outermost returns the span from the first opening brace or bracket to its
// last matching closer.
func outermost(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func fixJSON(s string) string {
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	s = unquotedKeyPattern.ReplaceAllString(s, `$1"$2":`)
	if !json.Valid([]byte(s)) && !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	return s
}
