package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DisplayName normalizes user-visible plaintext metadata such as group
// names: control characters are dropped and runs of whitespace collapse to
// a single space.
func DisplayName(input string) string {
	return strings.Join(strings.Fields(StripControlCharacters(input)), " ")
}

// StripControlCharacters removes control characters from string. Newlines
// and tabs become spaces.
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			result.WriteRune(' ')
		case !unicode.IsControl(r):
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateStringLength checks if the rune count is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(input)
	return n >= minLen && n <= maxLen
}
