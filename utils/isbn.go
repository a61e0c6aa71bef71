package utils

import (
	"errors"
	"strings"
)

var ErrInvalidISBN = errors.New("invalid ISBN-10")

// NormalizeISBN strips hyphens and spaces. Other characters are left alone
// so that validation still rejects them.
func NormalizeISBN(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, code)
}

// ValidateISBN checks an ISBN-10 or ISBN-13 checksum. Any other length is invalid.
func ValidateISBN(code string) bool {
	s := NormalizeISBN(code)
	switch len(s) {
	case 10:
		return validISBN10(s)
	case 13:
		return validISBN13(s)
	}
	return false
}

// validISBN10 weights the digits 10 down to 1; the last position may be X (10).
func validISBN10(s string) bool {
	if len(s) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case i == 9 && (c == 'X' || c == 'x'):
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func validISBN13(s string) bool {
	if len(s) != 13 || !allDigits(s) {
		return false
	}
	check, err := ISBN13Checksum(s[:12])
	return err == nil && check == s[12]
}

// ISBN13Checksum returns the check digit for the first twelve digits of an ISBN-13.
func ISBN13Checksum(first12 string) (byte, error) {
	if len(first12) != 12 || !allDigits(first12) {
		return 0, errors.New("isbn-13 checksum needs 12 digits")
	}
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(first12[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10), nil
}

// ConvertISBN10to13 re-prefixes a valid ISBN-10 with 978 and recomputes the check digit.
func ConvertISBN10to13(code string) (string, error) {
	s := NormalizeISBN(code)
	if !validISBN10(s) {
		return "", ErrInvalidISBN
	}
	body := "978" + s[:9]
	check, err := ISBN13Checksum(body)
	if err != nil {
		return "", err
	}
	return body + string(check), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
