package util

import (
	"regexp"
	"strings"
)

var phoneRegex = regexp.MustCompile(`^[0-9]{10,15}$`)

// IsValidPhoneNumber accepts digits-only numbers of 10 to 15 digits.
func IsValidPhoneNumber(s string) bool {
	return phoneRegex.MatchString(s)
}

// StripNonDigits removes everything but 0-9 from a raw number.
func StripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NumberVariants expands a raw number into the candidate identities to probe,
// in probe order. Brazilian mobile numbers (country code 55) have an optional
// ninth digit, so both the 13-digit and 12-digit forms are tried, longest
// first. Every other number is probed as-is.
func NumberVariants(number string) []string {
	digits := StripNonDigits(number)

	if strings.HasPrefix(digits, "55") {
		rest := digits[2:]
		switch {
		case len(rest) == 11 && rest[2] == '9':
			// 13 digits with the extra mobile digit; also try without it.
			return []string{digits, "55" + rest[:2] + rest[3:]}
		case len(rest) == 10:
			// 12 digits without it; also try with it.
			return []string{"55" + rest[:2] + "9" + rest[2:], digits}
		}
	}

	return []string{digits}
}
