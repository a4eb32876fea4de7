package upload

import (
	"regexp"
	"strings"
)

const maxFileNameLength = 120

var disallowedFileNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFileName reduces a caller-supplied file name to a safe object-key
// component: only the last path segment is kept, disallowed characters are
// replaced with underscores, and the result is capped at 120 characters.
// Returns "" when nothing safe remains, so the caller substitutes a random
// name.
func SanitizeFileName(fileName string) string {
	trimmed := strings.TrimSpace(fileName)
	if trimmed == "" {
		return ""
	}

	segments := strings.Split(trimmed, "/")
	base := segments[len(segments)-1]

	safe := disallowedFileNameChars.ReplaceAllString(base, "_")
	if len(safe) > maxFileNameLength {
		safe = safe[:maxFileNameLength]
	}
	if safe == "" || safe == "." || safe == ".." {
		return ""
	}
	return safe
}
