package crypto

import (
	"errors"
	"unicode"
)

const minPasswordLen = 8

// Password policy violations.
var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordNoLetter = errors.New("password must contain a letter")
	ErrPasswordNoDigit  = errors.New("password must contain a digit")
	ErrPasswordNoSymbol = errors.New("password must contain a symbol")
)

// CheckPasswordStrength enforces the admin password policy.
func CheckPasswordStrength(password string) error {
	if len([]rune(password)) < minPasswordLen {
		return ErrPasswordTooShort
	}
	var letter, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !letter {
		return ErrPasswordNoLetter
	}
	if !digit {
		return ErrPasswordNoDigit
	}
	if !symbol {
		return ErrPasswordNoSymbol
	}
	return nil
}
