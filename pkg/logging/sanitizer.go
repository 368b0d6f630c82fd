package logging

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Bearer tokens in echoed request headers
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_.]+`)

	// API keys passed as query parameters or JSON fields (Gemini ?key=, Tavily api_key)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)("?\s*[=:]\s*"?)[A-Za-z0-9\-_]{20,}`)

	// Provider-style secret keys (sk-..., sk-ant-..., tvly-...)
	secretKeyPattern = regexp.MustCompile(`\b(sk|sk-ant|tvly)-[A-Za-z0-9\-_]{16,}`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeError sanitizes error messages that might contain credentials.
// Use this before logging any error returned by an LLM provider or HTTP tool.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitizeSecrets(err.Error())
}

// SanitizeQuery collapses whitespace, truncates and sanitizes a SQL query for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := strings.TrimSpace(whitespacePattern.ReplaceAllString(query, " "))
	sanitized = TruncateString(sanitized, MaxQueryLogLength)
	return sanitizeSecrets(sanitized)
}

// SanitizePath reduces a filesystem path to its base name so upload
// directories are not written to shared logs.
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// TruncateString truncates a string to at most maxLen bytes and adds
// ellipsis if needed. The cut never splits a multibyte rune.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:runeBoundary(s, maxLen)] + "..."
}

// runeBoundary backs n up to the start of the rune it falls inside.
func runeBoundary(s string, n int) int {
	if n <= 0 {
		return 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

func sanitizeSecrets(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}${2}"+RedactedText)
	s = secretKeyPattern.ReplaceAllString(s, RedactedText)
	return s
}
