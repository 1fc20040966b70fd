package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// Every error response has the same shape:
//   {"error": "not_found", "message": "user not found with id 7"}
// Validation failures add the list of broken rules:
//   {"error": "validation_error", "message": "...", "violations": [{"field": "email", "message": "..."}]}

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/auth"
)

// maxBodyBytes caps request bodies; every body in this API is a few short strings.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error      string               `json:"error"`   // Machine-readable error code (e.g., "not_found")
	Message    string               `json:"message"` // Human-readable description
	Violations []apperror.Violation `json:"violations,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE writing the body. Once Encode calls
// w.Write(), the headers are sent and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error to its HTTP status.
//
// errors.Is walks the whole chain, so a service error such as
//
//	fmt.Errorf("service/identity: getting user 7: %w", apperror.NotFound(...))
//
// still matches ErrNotFound.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest // 400
	case errors.Is(err, apperror.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized // 401
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound // 404
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict // 409
	}
	return http.StatusInternalServerError
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// The service layer does not know about HTTP status codes; this is the only
// place where they are chosen. Errors that are not *apperror.AppError (store
// failures, auth.ErrHashing, ...) become a generic 500: their messages may
// contain SQL or file paths and are only logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, statusFor(err), ErrorResponse{
			Error:      appErr.Code,
			Message:    appErr.Message,
			Violations: appErr.Violations,
		})
		return
	}

	if status := statusFor(err); status == http.StatusUnauthorized {
		writeJSON(w, status, ErrorResponse{
			Error:   apperror.CodeUnauthorized,
			Message: "valid authentication required",
		})
		return
	}

	logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Malformed JSON is a 400 validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "request body must be a valid JSON object")
	}
	return nil
}

// userIDParam parses the {id} URL parameter.
//
// chi.URLParam reads the value chi captured from the route pattern:
// for DELETE /users/delete/42 and pattern /users/delete/{id} it returns "42".
func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", "id must be a positive integer")
	}
	return id, nil
}
