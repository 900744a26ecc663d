package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Handle format: @ followed by 3-30 word characters, dots, or hyphens
// (YouTube handle rules).
var handleRegex = regexp.MustCompile(`^@[\w.-]{3,30}$`)

// Injection patterns — Mongo operator and template fragments that should
// never appear in a user query. Query text feeds case-insensitive regex
// filters in the store, so operator smuggling is the concern here.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\{\s*"?\$[a-z]+"?\s*:`),
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)\b(db|collection)\.\w+\s*\(`),
}

const minQueryLength = 3

// ValidateQuery validates a user question before any collaborator is called.
func ValidateQuery(q Query) error {
	text := strings.TrimSpace(q.Text)

	if utf8.RuneCountInString(text) < minQueryLength {
		return NewValidationError("text", text, ErrQueryTooShort)
	}

	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("text", text, ErrQueryInjection)
		}
	}

	return nil
}

// ValidateHandle validates a YouTube channel handle. A missing leading "@"
// is tolerated and normalized by NormalizeHandle first.
func ValidateHandle(handle string) error {
	if !handleRegex.MatchString(handle) {
		return NewValidationError("handle", handle, ErrInvalidHandle)
	}
	return nil
}

// NormalizeHandle trims whitespace and ensures the leading "@".
func NormalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	if handle != "" && !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return handle
}

// ValidateVideoRecord checks the minimum a record needs before it can be
// stored. Descriptive metadata may be empty; the identity may not.
func ValidateVideoRecord(v VideoRecord) error {
	if strings.TrimSpace(v.VideoID) == "" {
		return NewValidationError("video_id", v.VideoID, ErrMissingVideoID)
	}
	return nil
}
