package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONArray is returned when a response carries no parseable JSON array.
var ErrNoJSONArray = errors.New("no JSON array found in response")

// thinkTagPattern matches <think>...</think> blocks some models prepend to answers.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSONArray returns the first balanced JSON array in a model
// response, ignoring <think> blocks, markdown fences and surrounding prose.
func ExtractJSONArray(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	// Brackets may appear in prose before the array; try each start in turn.
	for offset := 0; offset < len(cleaned); {
		idx := strings.IndexByte(cleaned[offset:], '[')
		if idx < 0 {
			break
		}
		start := offset + idx
		if candidate, ok := extractBalanced(cleaned[start:], '[', ']'); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		offset = start + 1
	}

	return "", ErrNoJSONArray
}

// ParseStringArray extracts a JSON array from response and returns its
// non-empty string elements, trimmed. Elements of other types are dropped.
func ParseStringArray(response string) ([]string, error) {
	raw, err := ExtractJSONArray(response)
	if err != nil {
		return nil, err
	}

	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("unmarshal JSON array: %w", err)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// extractBalanced returns the prefix of s that closes the bracket opened
// at s[0], skipping brackets inside string literals.
func extractBalanced(s string, openChar, closeChar byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}

	return "", false
}
