package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// TokenCookieName is the HttpOnly cookie set on login.
const TokenCookieName = "token"

// contextKey is unexported so only this package can read or write the
// identity stored in a request context.
type contextKey struct{}

var identityKey contextKey

// ErrNoToken means the request carried neither a bearer header nor a token
// cookie.
var ErrNoToken = errors.New("auth: no token presented")

// SessionValidator validates a raw token. *TokenService satisfies it; the
// auth service wraps it to also check that the user still exists.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*Identity, error)
}

// ValidateSession lets *TokenService be used directly as a SessionValidator.
func (s *TokenService) ValidateSession(ctx context.Context, token string) (*Identity, error) {
	return s.Validate(ctx, token)
}

// Authenticate is the per-request decision: it returns the identity behind
// the presented token, or the reason the request must be denied.
func Authenticate(r *http.Request, v SessionValidator) (*Identity, error) {
	token, ok := TokenFromRequest(r)
	if !ok {
		return nil, ErrNoToken
	}
	return v.ValidateSession(r.Context(), token)
}

// RequireAuth rejects requests without a valid session with 401 and stores
// the identity in the request context for the handler.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(v SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Authenticate(r, v)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="identity"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}` + "\n"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity RequireAuth stored, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// TokenFromRequest reads "Authorization: Bearer <token>" and falls back to
// the token cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		const bearer = "Bearer "
		if len(h) > len(bearer) && strings.EqualFold(h[:len(bearer)], bearer) {
			if token := strings.TrimSpace(h[len(bearer):]); token != "" {
				return token, true
			}
		}
		return "", false
	}

	cookie, err := r.Cookie(TokenCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
