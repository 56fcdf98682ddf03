package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

const maxNameLength = 100

var (
	// EmailRegex validates email format
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// UUIDRegex validates UUID format
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	slugRegex = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// IsValidEmail checks if the string is a valid email format
func IsValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// IsValidUUID checks if the string is a valid UUID format
func IsValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// IsValidSlug accepts lowercase letters, digits and hyphens.
func IsValidSlug(slug string) bool {
	return len(slug) <= maxNameLength && slugRegex.MatchString(slug)
}

// IsValidHTTPURL checks for an absolute http or https URL.
func IsValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsLocalRedirect reports whether target stays on the current origin, so it
// can be used after sign-in without becoming an open redirect.
func IsLocalRedirect(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Host == "" && u.Scheme == ""
}

// SanitizeName strips control characters and surrounding whitespace from a
// display name and caps its length.
func SanitizeName(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return TruncateString(strings.TrimSpace(result.String()), maxNameLength)
}

// TruncateString truncates a string to maxLen characters
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
