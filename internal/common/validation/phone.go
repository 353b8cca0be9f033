// internal/common/validation/phone.go
package validation

import (
	"regexp"
	"strings"
	"unicode"
)

var phonePattern = regexp.MustCompile(`^[+]?[1-9]\d{0,15}$`)

// CleanPhoneNumber drops whitespace, dashes and parentheses.
func CleanPhoneNumber(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, phone)
}

// IsValidPhoneNumber reports whether phone, once cleaned, is an optional "+"
// followed by up to 16 digits not starting with 0, and is at least 10
// characters long.
func IsValidPhoneNumber(phone string) bool {
	if phone == "" {
		return false
	}
	clean := CleanPhoneNumber(phone)
	return phonePattern.MatchString(clean) && len(clean) >= 10
}
