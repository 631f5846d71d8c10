// Package card holds card number helpers: Luhn validation, brand detection
// and masking. None of these values are ever persisted.
package card

import (
	"strings"
	"unicode"
)

const (
	BrandVisa       = "visa"
	BrandMastercard = "mastercard"
	BrandAmex       = "amex"
	BrandDiscover   = "discover"
	BrandDiners     = "diners"
	BrandJCB        = "jcb"
	BrandUnknown    = "unknown"
)

// Normalize strips spaces and dashes.
func Normalize(number string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
}

// IsValidNumber reports whether number has 13 to 19 digits and passes the
// Luhn check.
func IsValidNumber(number string) bool {
	number = Normalize(number)
	if len(number) < 13 || len(number) > 19 {
		return false
	}
	for _, r := range number {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return luhn(number)
}

// Luhn Algorithm: Used to validate credit card numbers
func luhn(cardNumber string) bool {
	var sum int
	shouldDouble := false

	// Iterate over the digits of the card number from right to left
	for i := len(cardNumber) - 1; i >= 0; i-- {
		digit := int(cardNumber[i] - '0')

		if shouldDouble {
			digit = digit * 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		shouldDouble = !shouldDouble
	}

	return sum%10 == 0
}

// Brand detects the card network from the number prefix. A six digit BIN is
// enough.
func Brand(number string) string {
	n := Normalize(number)
	switch {
	case strings.HasPrefix(n, "4"):
		return BrandVisa
	case hasPrefixRange(n, 51, 55, 2), hasPrefixRange(n, 2221, 2720, 4):
		return BrandMastercard
	case strings.HasPrefix(n, "34"), strings.HasPrefix(n, "37"):
		return BrandAmex
	case strings.HasPrefix(n, "6011"), strings.HasPrefix(n, "65"), hasPrefixRange(n, 644, 649, 3):
		return BrandDiscover
	case hasPrefixRange(n, 300, 305, 3), strings.HasPrefix(n, "36"), strings.HasPrefix(n, "38"):
		return BrandDiners
	case hasPrefixRange(n, 3528, 3589, 4):
		return BrandJCB
	default:
		return BrandUnknown
	}
}

func hasPrefixRange(n string, lo, hi, width int) bool {
	if len(n) < width {
		return false
	}
	v := 0
	for _, r := range n[:width] {
		if r < '0' || r > '9' {
			return false
		}
		v = v*10 + int(r-'0')
	}
	return v >= lo && v <= hi
}

// LastFour returns the last four digits, or "****" when unavailable.
func LastFour(number string) string {
	n := Normalize(number)
	if len(n) < 4 {
		return "****"
	}
	return n[len(n)-4:]
}

// Mask keeps only the last four digits visible.
func Mask(number string) string {
	n := Normalize(number)
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

// ExpiryYear expands two digit years to 20xx.
func ExpiryYear(year int) int {
	if year >= 0 && year < 100 {
		return 2000 + year
	}
	return year
}
