// Package validation provides input validation for the Licentia API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxInstanceIDLength bounds instance identifiers (site URLs, machine IDs).
const MaxInstanceIDLength = 255

var (
	// emailRegex is a pragmatic check, not an RFC 5322 parser.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// slugRegex validates product slugs (lowercase alphanumeric + hyphens).
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}[a-z0-9]$|^[a-z0-9]$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEmail checks if a string looks like an email address.
func IsValidEmail(email string) bool {
	return len(email) <= 254 && emailRegex.MatchString(email)
}

// IsValidSlug checks if a string is a valid product slug.
func IsValidSlug(slug string) bool {
	return slugRegex.MatchString(slug)
}

// IsValidInstanceID checks an activation instance identifier
// (a site URL or machine ID supplied by the product).
func IsValidInstanceID(id string) bool {
	if id == "" || len(id) > MaxInstanceIDLength {
		return false
	}
	return !strings.ContainsAny(id, "\x00\n\r")
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// NormalizeEmail lowercases and trims an email for use as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeSlug lowercases and trims a product slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
