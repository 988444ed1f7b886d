// Package normalize validates and canonicalizes phone numbers and status labels
// coming from spreadsheets and user input.
package normalize

import (
	"regexp"
	"strings"
)

// phonePattern is a leading zero followed by 9 or 10 digits.
var phonePattern = regexp.MustCompile(`^0\d{9,10}$`)

// CanonicalizePhone strips every non-digit character. It does not validate.
func CanonicalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhone reports whether raw, after stripping non-digits, is a 10 or 11
// digit number starting with 0.
func ValidatePhone(raw string) bool {
	return phonePattern.MatchString(CanonicalizePhone(raw))
}

// FormatPhoneForDisplay groups a 10-digit number as DDD-DDD-DDDD and an 11-digit
// number as DDDD-DDD-DDDD. Any other input is returned unchanged.
func FormatPhoneForDisplay(digits string) string {
	switch len(digits) {
	case 10:
		if !allDigits(digits) {
			return digits
		}
		return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
	case 11:
		if !allDigits(digits) {
			return digits
		}
		return digits[:4] + "-" + digits[4:7] + "-" + digits[7:]
	default:
		return digits
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
