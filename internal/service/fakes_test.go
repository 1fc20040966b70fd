package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/auth"
	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory implementation of repository.UserRepository.
// Using a fake (not a mock framework) keeps tests easy to read: you can see
// exactly what the fake does. Emails compare case-insensitively, like the
// real stores.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64

	// calls counts every method invocation, keyed by method name.
	calls map[string]int

	// set to a non-nil error to simulate a database failure
	findErr   error
	insertErr error
	updateErr error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:  make(map[int64]*model.User),
		nextID: 1,
		calls:  make(map[string]int),
	}
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FindByEmail"]++
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["FindByID"]++
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) Insert(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Insert"]++
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrUniquenessViolation
		}
	}
	user.ID = f.nextID
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	c := *user
	f.users[user.ID] = &c
	return nil
}

func (f *fakeUserRepo) Update(_ context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Update"]++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	u.UpdatedAt = time.Now()
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Delete"]++
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	delete(f.users, id)
	return u, nil
}

func (f *fakeUserRepo) ListAll(_ context.Context) ([]model.UserSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListAll"]++
	out := make([]model.UserSummary, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUserRepo) Ping(context.Context) error { return nil }

// writes returns how many mutating calls reached the store.
func (f *fakeUserRepo) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["Insert"] + f.calls["Update"] + f.calls["Delete"]
}

// storedHash returns the persisted hash of user id.
func (f *fakeUserRepo) storedHash(t *testing.T, id int64) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		t.Fatalf("user %d not in store", id)
	}
	return u.PasswordHash
}

// failingHasher simulates an internal hashing fault.
type failingHasher struct{}

func (failingHasher) Hash(context.Context, string) (string, error) {
	return "", auth.ErrHashing
}

func (failingHasher) Verify(context.Context, string, string) (bool, error) {
	return false, auth.ErrHashing
}

// flakyHasher fails the first hashFailures Hash calls, then delegates.
type flakyHasher struct {
	PasswordHasher

	mu           sync.Mutex
	hashFailures int
	hashes       int
	verifies     int
}

func (f *flakyHasher) Hash(ctx context.Context, secret string) (string, error) {
	f.mu.Lock()
	f.hashes++
	fail := f.hashes <= f.hashFailures
	f.mu.Unlock()
	if fail {
		return "", auth.ErrHashing
	}
	return f.PasswordHasher.Hash(ctx, secret)
}

func (f *flakyHasher) Verify(ctx context.Context, secret, hashed string) (bool, error) {
	f.mu.Lock()
	f.verifies++
	f.mu.Unlock()
	return f.PasswordHasher.Verify(ctx, secret, hashed)
}

func (f *flakyHasher) hashCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes
}

func (f *flakyHasher) verifyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifies
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestIdentityService wires an IdentityService to a fake store and a real
// bcrypt hasher at minimum cost, which keeps tests fast.
func newTestIdentityService(t *testing.T, repo *fakeUserRepo) *IdentityService {
	t.Helper()
	hasher := auth.NewCredentialHasher(auth.NewBcryptHasherForTest(), 0)
	return NewIdentityService(repo, hasher, nil, discardLogger())
}

// createTestUser creates a user through the service and fails the test on error.
func createTestUser(t *testing.T, svc *IdentityService, email, password, name string) *model.User {
	t.Helper()
	u, err := svc.Create(context.Background(), CreateUserInput{Email: email, Password: password, Name: name})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", email, err)
	}
	return u
}

func ptr[T any](v T) *T { return &v }

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !apperror.HasCode(err, code) {
		t.Fatalf("error = %v, want code %q", err, code)
	}
}

var errDB = errors.New("database is on fire")
