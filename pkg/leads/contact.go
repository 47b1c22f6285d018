package leads

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s has a local@domain.tld shape.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone reduces a phone number to its lookup form: digits only,
// without a leading US country code on 11-digit numbers. The result is not
// guaranteed to be 10 digits.
func NormalizePhone(s string) string {
	digits := Digits(s)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// ValidPhone reports whether s has exactly 10 digits once punctuation is
// stripped. A country code is not accepted.
func ValidPhone(s string) bool {
	return len(Digits(s)) == 10
}
