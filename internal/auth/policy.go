package auth

import (
	"fmt"
	"unicode/utf8"

	"github.com/sakif/identity/internal/apperror"
)

// Password strength bounds, counted in characters.
const (
	MinPasswordLength = 4
	MaxPasswordLength = 20
)

// MaxPasswordBytes is the longest input bcrypt accepts. Twenty multi-byte
// characters can exceed it.
const MaxPasswordBytes = bcryptMaxBytes

// CheckPasswordStrength returns every strength rule password breaks,
// attributed to field. An empty result means the password is acceptable.
//
// Rules: 4–20 characters and at most MaxPasswordBytes bytes, at least one
// ASCII uppercase letter, one ASCII lowercase letter, and one digit or
// non-word character. Word characters are [A-Za-z0-9_], so a non-ASCII
// letter such as é counts as a symbol.
func CheckPasswordStrength(field, password string) []apperror.Violation {
	var violations []apperror.Violation

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		violations = append(violations, apperror.Violation{
			Field:   field,
			Message: fmt.Sprintf("%s must be longer than or equal to %d characters", field, MinPasswordLength),
		})
	}
	if n > MaxPasswordLength {
		violations = append(violations, apperror.Violation{
			Field:   field,
			Message: fmt.Sprintf("%s must be shorter than or equal to %d characters", field, MaxPasswordLength),
		})
	}

	if len(password) > MaxPasswordBytes {
		violations = append(violations, apperror.Violation{
			Field:   field,
			Message: fmt.Sprintf("%s must be %d bytes or fewer", field, MaxPasswordBytes),
		})
	}

	var upper, lower, digitOrSymbol bool
	for _, r := range password {
		if r >= 'A' && r <= 'Z' {
			upper = true
		}
		if r >= 'a' && r <= 'z' {
			lower = true
		}
		if (r >= '0' && r <= '9') || !isWordRune(r) {
			digitOrSymbol = true
		}
	}
	if !upper || !lower || !digitOrSymbol {
		violations = append(violations, apperror.Violation{
			Field:   field,
			Message: "password too weak",
		})
	}

	return violations
}

// isWordRune mirrors the regexp \w class: ASCII letters, digits, underscore.
func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}
