package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashString computes the hex-encoded SHA-256 of a string.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 characters of a full hash for display.
func ShortHash(full string) string {
	if len(full) < 8 {
		return full
	}
	return full[:8]
}

// NormalizeWhitespace collapses runs of whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint derives a deterministic content fingerprint from the
// whitespace-normalized HTML plus the request fields that influence a
// verdict. Identical pages with identical intent hash identically.
func Fingerprint(html string, fields ...string) string {
	var b strings.Builder
	b.WriteString(NormalizeWhitespace(html))
	for _, f := range fields {
		b.WriteByte('|')
		b.WriteString(f)
	}
	return HashString(b.String())
}

// TruncateText truncates text to maxLen runes with an ellipsis.
func TruncateText(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
