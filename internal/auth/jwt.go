// Package auth holds the credential and session primitives: password
// hashers, the password strength policy, the JWT session authority with
// optional revocation, and the HTTP middleware that guards protected routes.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims → {"sub":"42","email":"a@x.com","jti":"…","exp":…}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The signature is checked without a DB lookup. Revocation, when a Revoker
// is configured, adds one lookup keyed by the token's session id (jti).
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/identity/internal/model"
)

const (
	DefaultIssuer   = "identity-service"
	DefaultTokenTTL = 15 * time.Minute
	minSecretLength = 16
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// Token is an issued bearer credential.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Identity is what a validated token vouches for. Name is empty unless the
// validator re-read the user record.
type Identity struct {
	UserID    int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	SessionID string    `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// TokenService is the session authority: it issues and validates HS256 JWTs
// bound to a user id.
type TokenService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoker Revoker
	now     func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRevoker enables logout. Without it, tokens stay valid until expiry.
func WithRevoker(r Revoker) TokenOption {
	return func(s *TokenService) { s.revoker = r }
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", minSecretLength)
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue signs a token for user with the configured lifetime.
func (s *TokenService) Issue(user *model.User) (*Token, error) {
	return s.IssueWithDuration(user, s.ttl)
}

// IssueWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to produce already-expired tokens.
func (s *TokenService) IssueWithDuration(user *model.User, d time.Duration) (*Token, error) {
	if user == nil || user.ID <= 0 {
		return nil, errors.New("auth: cannot issue a token without a user id")
	}

	now := s.now()
	expires := now.Add(d)

	c := claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: signing token: %w", err)
	}

	return &Token{Value: signed, ExpiresAt: c.ExpiresAt.Time}, nil
}

// Validate parses and verifies a token and returns the identity it carries.
//
// Checks: HS256 only (no algorithm confusion), issuer match, expiry present
// and in the future, numeric subject, and, when a Revoker is set, that the
// session has not been revoked. A revocation lookup failure rejects the token.
func (s *TokenService) Validate(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	if s.revoker != nil {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
		}
		revoked, err := s.revoker.IsRevoked(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("auth: checking revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return &Identity{
		UserID:    userID,
		Email:     c.Email,
		SessionID: c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Revoke invalidates the session behind id until its natural expiry.
// It reports whether revocation is actually enforced.
func (s *TokenService) Revoke(ctx context.Context, id *Identity) (bool, error) {
	if s.revoker == nil || id == nil || id.SessionID == "" {
		return false, nil
	}
	ttl := id.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return true, nil
	}
	if err := s.revoker.Revoke(ctx, id.SessionID, ttl); err != nil {
		return false, fmt.Errorf("auth: revoking session: %w", err)
	}
	return true, nil
}
