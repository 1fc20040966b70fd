// Package service holds the business rules of the identity system.
//
// The layering mirrors the rest of the code base:
//
//	UserHandler (HTTP) → IdentityService (business rules) → UserRepository (DB)
//	                                                     ↘ CredentialHasher
//	AuthHandler (HTTP) → AuthService → IdentityService.Authenticate
//	                                 ↘ TokenService (JWT)
//
// Services never touch http.Request or http.ResponseWriter, and they never
// cache users: every call re-reads the store, so the store is the single
// source of truth even with many concurrent requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/metrics"
	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/repository"
)

const tracerName = "github.com/sakif/identity/internal/service"

// dummySecret is hashed on first use and verified against when a login names an
// unknown email, so both failure paths cost one verify.
const dummySecret = "not-a-real-password-Aa1!"

// PasswordHasher is the part of auth.CredentialHasher the services use.
type PasswordHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	Verify(ctx context.Context, secret, hashed string) (bool, error)
}

// IdentityService owns the user lifecycle: create, read, update, delete and
// credential checks.
//
// DEPENDENCIES (injected via NewIdentityService):
//   - users    repository.UserRepository → persisted user records
//   - hasher   PasswordHasher            → one-way password hashing
//   - metrics  *metrics.Metrics          → counters and hash latency (may be nil)
//   - logger   *slog.Logger              → structured logging
type IdentityService struct {
	users   repository.UserRepository
	hasher  PasswordHasher
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	dummyMu   sync.Mutex
	dummyHash string
}

// NewIdentityService creates an IdentityService with all required dependencies.
func NewIdentityService(
	users repository.UserRepository,
	hasher PasswordHasher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		users:   users,
		hasher:  hasher,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Create registers a new user.
//
// Order matters:
//  1. validate the input (no store access on malformed input)
//  2. reject an email that a live user already owns
//  3. hash the password
//  4. insert; the store's unique index settles any race with a concurrent create
//
// The returned user never carries the password hash.
func (s *IdentityService) Create(ctx context.Context, in CreateUserInput) (_ *model.User, err error) {
	ctx, span := s.tracer.Start(ctx, "IdentityService.Create")
	defer func() { endSpan(span, err) }()

	if err := ValidateCreateInput(&in); err != nil {
		return nil, err
	}

	_, err = s.users.FindByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperror.DuplicateAccount()
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/identity: checking email: %w", err)
	}

	hash, err := s.hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/identity: hashing password: %w", err)
	}

	user := &model.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUniquenessViolation) {
			return nil, apperror.DuplicateAccount()
		}
		return nil, fmt.Errorf("service/identity: inserting user: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	s.metrics.UserEvent("created")
	s.logger.InfoContext(ctx, "user created", slog.Int64("userID", user.ID))

	return user.Public(), nil
}

// Authenticate checks an email and password pair.
//
// Every mismatch, whether the email is unknown or the password is wrong,
// returns apperror.InvalidCredentials so responses cannot be used to find
// registered emails. For the same reason an unknown email still pays for
// one password verification.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (_ *model.User, err error) {
	ctx, span := s.tracer.Start(ctx, "IdentityService.Authenticate")
	defer func() { endSpan(span, err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.InvalidCredentials()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/identity: finding user by email: %w", err)
		}
		s.burnVerify(ctx, password)
		return nil, apperror.InvalidCredentials()
	}

	ok, err := s.verify(ctx, password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("service/identity: verifying password for user %d: %w", user.ID, err)
	}
	if !ok {
		return nil, apperror.InvalidCredentials()
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user.Public(), nil
}

// ListAll returns the id, email and name of every user.
func (s *IdentityService) ListAll(ctx context.Context) (_ []model.UserSummary, err error) {
	ctx, span := s.tracer.Start(ctx, "IdentityService.ListAll")
	defer func() { endSpan(span, err) }()

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/identity: listing users: %w", err)
	}
	return users, nil
}

// GetByID returns one user. Absent users yield apperror.ErrNotFound.
func (s *IdentityService) GetByID(ctx context.Context, id int64) (_ *model.User, err error) {
	ctx, span := s.tracer.Start(ctx, "IdentityService.GetByID",
		trace.WithAttributes(attribute.Int64("user.id", id)))
	defer func() { endSpan(span, err) }()

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: getting user %d: %w", id, err)
	}
	return user.Public(), nil
}

// Update changes a user's name and/or password.
//
// The update is all-or-nothing. A new password is only accepted after the
// current one is re-proved; if that check fails nothing is written, not even
// a name change sent in the same request. A weak new password is rejected
// before the store is touched.
func (s *IdentityService) Update(ctx context.Context, id int64, in UpdateUserInput) (_ *model.User, err error) {
	ctx, span := s.tracer.Start(ctx, "IdentityService.Update",
		trace.WithAttributes(attribute.Int64("user.id", id)))
	defer func() { endSpan(span, err) }()

	if err := ValidateUpdateInput(&in); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: getting user %d: %w", id, err)
	}

	var patch model.UserPatch
	if in.Name != nil {
		patch.Name = in.Name
	}

	if in.changesPassword() {
		ok, err := s.verify(ctx, *in.Password, existing.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("service/identity: verifying current password for user %d: %w", id, err)
		}
		if !ok {
			s.logger.WarnContext(ctx, "password change rejected", slog.Int64("userID", id))
			return nil, apperror.InvalidCurrentPassword()
		}

		hash, err := s.hash(ctx, *in.NewPassword)
		if err != nil {
			return nil, fmt.Errorf("service/identity: hashing new password for user %d: %w", id, err)
		}
		patch.PasswordHash = &hash
	}

	if patch.Empty() {
		return existing.Public(), nil
	}

	updated, err := s.users.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("service/identity: updating user %d: %w", id, err)
	}

	s.metrics.UserEvent("updated")
	if patch.PasswordHash != nil {
		s.metrics.UserEvent("password_changed")
		s.logger.InfoContext(ctx, "password changed", slog.Int64("userID", id))
	}

	return updated.Public(), nil
}

// Delete permanently removes a user and returns its last state.
func (s *IdentityService) Delete(ctx context.Context, id int64) (_ *model.User, err error) {
	ctx, span := s.tracer.Start(ctx, "IdentityService.Delete",
		trace.WithAttributes(attribute.Int64("user.id", id)))
	defer func() { endSpan(span, err) }()

	removed, err := s.users.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: deleting user %d: %w", id, err)
	}

	s.metrics.UserEvent("deleted")
	s.logger.InfoContext(ctx, "user deleted", slog.Int64("userID", id))

	return removed.Public(), nil
}

func (s *IdentityService) hash(ctx context.Context, secret string) (string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("hash", time.Since(start)) }()
	return s.hasher.Hash(ctx, secret)
}

func (s *IdentityService) verify(ctx context.Context, secret, hashed string) (bool, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("verify", time.Since(start)) }()
	return s.hasher.Verify(ctx, secret, hashed)
}

// burnVerify spends one verification on a throwaway hash. Errors are
// ignored: the caller already knows the answer. The throwaway hash is
// computed on first use and recomputed until that succeeds.
func (s *IdentityService) burnVerify(ctx context.Context, secret string) {
	dummy, err := s.dummy(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "computing dummy hash", slog.Any("error", err))
		return
	}
	_, _ = s.verify(ctx, secret, dummy)
}

func (s *IdentityService) dummy(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash != "" {
		return s.dummyHash, nil
	}
	h, err := s.hasher.Hash(context.WithoutCancel(ctx), dummySecret)
	if err != nil {
		return "", err
	}
	s.dummyHash = h
	return h, nil
}

// endSpan records err on span, if any, and ends it. Expected business
// outcomes (not found, bad credentials) are not marked as span errors.
func endSpan(span trace.Span, err error) {
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
