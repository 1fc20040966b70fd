// Package apperror defines the typed errors that cross the service boundary.
//
// Every AppError wraps one of the sentinel kinds below so callers can branch
// with errors.Is, and carries a stable Code so two failures of the same kind
// (a duplicate email and a wrong current password are both conflicts) stay
// distinguishable for clients and tests.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Stable machine-readable codes.
const (
	CodeNotFound               = "not_found"
	CodeValidation             = "validation_error"
	CodeUnauthorized           = "unauthorized"
	CodeDuplicateAccount       = "duplicate_account"
	CodeInvalidCredentials     = "invalid_credentials"
	CodeInvalidCurrentPassword = "invalid_current_password"
	CodeWeakPassword           = "weak_password"
)

// Violation describes one failed rule on one input field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type AppError struct {
	Err        error       // sentinel kind
	Code       string      // machine-readable code
	Message    string      // Human-readable error message
	Field      string      // Optional: field causing the error
	Violations []Violation // Optional: every failed rule, for validation errors
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an *AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       CodeValidation,
		Message:    message,
		Field:      field,
		Violations: []Violation{{Field: field, Message: message}},
	}
}

// Invalid builds a validation error from a list of violations. The first
// violation provides Message and Field. Invalid returns nil for an empty list
// so callers can write `if err := apperror.Invalid(v); err != nil`.
func Invalid(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &AppError{
		Err:        ErrValidation,
		Code:       CodeValidation,
		Message:    violations[0].Message,
		Field:      violations[0].Field,
		Violations: violations,
	}
}

// Unauthorized reports a missing, invalid, expired or revoked session.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// DuplicateAccount reports that a live user already owns the email.
func DuplicateAccount() *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    CodeDuplicateAccount,
		Message: "User already exists with this email!",
		Field:   "email",
	}
}

// InvalidCredentials is the single failure returned for every login
// mismatch. It never says whether the email exists.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    CodeInvalidCredentials,
		Message: "Email address or password provided is incorrect.",
	}
}

// InvalidCurrentPassword reports a failed re-proof during a password change.
func InvalidCurrentPassword() *AppError {
	return &AppError{
		Err:     ErrConflict,
		Code:    CodeInvalidCurrentPassword,
		Message: "Current password is incorrect",
		Field:   "password",
	}
}

// WeakPassword reports a new password that fails the strength policy.
func WeakPassword(field string, violations []Violation) *AppError {
	msg := "password too weak"
	if len(violations) > 0 {
		msg = violations[0].Message
	}
	return &AppError{
		Err:        ErrValidation,
		Code:       CodeWeakPassword,
		Message:    msg,
		Field:      field,
		Violations: violations,
	}
}
