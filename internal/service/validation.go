package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/auth"
)

// Name bounds, counted in characters after trimming.
const (
	MinNameLength = 1
	MaxNameLength = 100
)

// CreateUserInput is the body of POST /users/create.
type CreateUserInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// UpdateUserInput is the body of PUT /users/update/{id}. It carries only the
// fields a caller may change. A nil field is not part of the update.
//
// A password change needs both Password (the current one, re-proved) and
// NewPassword.
type UpdateUserInput struct {
	Name        *string `json:"name"`
	Password    *string `json:"password"`
	NewPassword *string `json:"newpassword"`
}

// changesPassword reports whether the input asks for a password change.
func (in UpdateUserInput) changesPassword() bool {
	return in.NewPassword != nil
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// normalizeEmail trims surrounding whitespace. Case is left alone; the
// stores compare emails case-insensitively.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// ValidateCreateInput normalizes in and returns every rule it breaks.
// Nothing is checked against the store here.
func ValidateCreateInput(in *CreateUserInput) error {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	var v []apperror.Violation

	switch {
	case in.Email == "":
		v = append(v, apperror.Violation{Field: "email", Message: "email is required"})
	case !isEmailAddress(in.Email):
		v = append(v, apperror.Violation{Field: "email", Message: "email must be an email"})
	}

	v = append(v, checkName(in.Name)...)

	if in.Password == "" {
		v = append(v, apperror.Violation{Field: "password", Message: "password is required"})
	} else {
		v = append(v, auth.CheckPasswordStrength("password", in.Password)...)
	}

	return apperror.Invalid(v)
}

// ValidateUpdateInput normalizes in and checks its shape. A new password
// that breaks the strength policy is reported as WeakPassword so callers can
// tell it apart from other malformed input.
func ValidateUpdateInput(in *UpdateUserInput) error {
	var v []apperror.Violation

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		v = append(v, checkName(name)...)
	}

	switch {
	case in.changesPassword() && (in.Password == nil || *in.Password == ""):
		v = append(v, apperror.Violation{Field: "password", Message: "current password is required to set a new password"})
	case !in.changesPassword() && in.Password != nil:
		v = append(v, apperror.Violation{Field: "newpassword", Message: "newpassword is required when password is given"})
	}

	if err := apperror.Invalid(v); err != nil {
		return err
	}

	if in.changesPassword() {
		if weak := auth.CheckPasswordStrength("newpassword", *in.NewPassword); len(weak) > 0 {
			return apperror.WeakPassword("newpassword", weak)
		}
	}
	return nil
}

func checkName(name string) []apperror.Violation {
	n := utf8.RuneCountInString(name)
	switch {
	case n < MinNameLength:
		return []apperror.Violation{{Field: "name", Message: "name is required"}}
	case n > MaxNameLength:
		return []apperror.Violation{{Field: "name", Message: "name must be shorter than or equal to 100 characters"}}
	}
	return nil
}

// isEmailAddress accepts a bare addr-spec. Display-name forms such as
// "Jan <jan@example.com>" parse but are rejected.
func isEmailAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
