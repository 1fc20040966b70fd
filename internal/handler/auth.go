package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/auth"
	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/service"
)

// SessionService is what AuthHandler needs from the auth service.
type SessionService interface {
	auth.SessionValidator
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	Logout(ctx context.Context, id *auth.Identity) (bool, error)
}

var _ SessionService = (*service.AuthService)(nil)

// AuthHandler manages login, session validation and logout.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin    → check credentials, issue a token (body + HttpOnly cookie)
//   - HandleValidate → return the identity behind the presented token
//   - HandleLogout   → revoke the session and clear the cookie
type AuthHandler struct {
	sessions     SessionService
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookie sets the Secure flag
// on the token cookie (enable behind HTTPS).
func NewAuthHandler(sessions SessionService, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// Routes mounts the auth endpoints on r. Login is public; validate and
// logout sit behind auth.RequireAuth.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/login", h.HandleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.sessions))
		r.Get("/validate", h.HandleValidate)
		r.Post("/logout", h.HandleLogout)
	})
}

// LoginResponse is the body returned by a successful login.
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      *model.User `json:"user"`
}

// HandleLogin checks an email and password and issues a session token.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"email": "a@x.com", "password": "Passw0rd!"}
// RESPONSE: 200 + token; 401 invalid_credentials for any mismatch
//
// The token is also set as an HttpOnly cookie:
//   - HttpOnly: JavaScript cannot read it (XSS protection)
//   - SameSite=Lax: not sent on cross-site POSTs
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.sessions.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    res.Token.Value,
		Path:     "/",
		Expires:  res.Token.ExpiresAt,
		MaxAge:   int(time.Until(res.Token.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     res.Token.Value,
		ExpiresAt: res.Token.ExpiresAt,
		User:      res.User,
	})
}

// HandleValidate returns {id, email, name} of the session's user.
//
// HTTP: GET /auth/validate
// Auth: Required (RequireAuth stores the identity in the context)
func (h *AuthHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("valid authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// HandleLogout revokes the current session and clears the cookie.
//
// HTTP: POST /auth/logout
//
// Without a revocation store the token stays valid until it expires; the
// response says so in "revoked".
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("valid authentication required"))
		return
	}

	revoked, err := h.sessions.Logout(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out", "revoked": revoked})
}
