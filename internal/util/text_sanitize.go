package util

import (
	"strings"
	"unicode"
)

// ValidText repairs invalid UTF-8 and strips NUL bytes, leaving every other
// character of the message untouched.
func ValidText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// SanitizeText normalizes a tracking value before it is stored:
// invalid UTF-8 becomes U+FFFD, NUL and other control runes are dropped and
// runs of whitespace collapse to a single space.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "�")
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
