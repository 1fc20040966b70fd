package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/auth"
	"github.com/sakif/identity/internal/metrics"
	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/repository"
)

// AuthService handles login, session validation and logout.
//
// The password check itself is delegated to IdentityService.Authenticate;
// AuthService only binds a token to the user it returns.
type AuthService struct {
	identity *IdentityService
	users    repository.UserRepository
	tokens   *auth.TokenService
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// compile-time check: AuthService guards routes via auth.RequireAuth.
var _ auth.SessionValidator = (*AuthService)(nil)

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	identity *IdentityService,
	users repository.UserRepository,
	tokens *auth.TokenService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		identity: identity,
		users:    users,
		tokens:   tokens,
		metrics:  m,
		logger:   logger,
	}
}

// LoginResult bundles the authenticated user and the issued token so the
// handler can set the cookie and respond in one step.
type LoginResult struct {
	User  *model.User
	Token *auth.Token
}

// Login verifies credentials and issues a session token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.identity.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		if apperror.HasCode(err, apperror.CodeInvalidCredentials) {
			s.metrics.ObserveLogin(metrics.LoginFailure)
			// The email is deliberately not logged.
			s.logger.WarnContext(ctx, "login failed")
			return nil, err
		}
		s.metrics.ObserveLogin(metrics.LoginError)
		return nil, fmt.Errorf("service/auth: authenticating: %w", err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		s.metrics.ObserveLogin(metrics.LoginError)
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}

	s.metrics.ObserveLogin(metrics.LoginSuccess)
	s.logger.InfoContext(ctx, "user logged in", slog.Int64("userID", user.ID))

	return &LoginResult{User: user, Token: token}, nil
}

// ValidateSession validates token and re-reads its user, so a token that
// outlives its account is rejected. The returned identity carries the
// user's current email and name.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*auth.Identity, error) {
	id, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", auth.ErrInvalidToken)
		}
		return nil, fmt.Errorf("service/auth: loading session user %d: %w", id.UserID, err)
	}

	id.Email = user.Email
	id.Name = user.Name
	return id, nil
}

// Logout revokes the session behind id. It reports whether the revocation
// is enforced server-side (false when no revocation store is configured;
// the token then stays valid until it expires).
func (s *AuthService) Logout(ctx context.Context, id *auth.Identity) (bool, error) {
	enforced, err := s.tokens.Revoke(ctx, id)
	if err != nil {
		return false, fmt.Errorf("service/auth: logging out user %d: %w", id.UserID, err)
	}
	s.logger.InfoContext(ctx, "user logged out",
		slog.Int64("userID", id.UserID),
		slog.Bool("revoked", enforced),
	)
	return enforced, nil
}
