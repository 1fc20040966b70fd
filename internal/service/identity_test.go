package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/auth"
	"github.com/sakif/identity/internal/repository"
)

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)

	u, err := svc.Create(context.Background(), CreateUserInput{
		Email:    "a@x.com",
		Password: "Passw0rd!",
		Name:     "A",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if u.ID <= 0 {
		t.Errorf("Create() did not assign an id, got %d", u.ID)
	}
	if u.PasswordHash != "" {
		t.Error("Create() returned the password hash")
	}

	stored := repo.storedHash(t, u.ID)
	if stored == "" || stored == "Passw0rd!" {
		t.Errorf("stored password hash = %q, want a bcrypt hash", stored)
	}
	if !strings.HasPrefix(stored, "$2") {
		t.Errorf("stored hash %q is not bcrypt output", stored)
	}
}

// the serialized user never carries the hash or the raw password.
func TestCreate_OutputNeverContainsPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)

	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	body, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	s := string(body)
	for _, forbidden := range []string{"Passw0rd!", "$2a$", "password"} {
		if strings.Contains(s, forbidden) {
			t.Errorf("serialized user %s contains %q", s, forbidden)
		}
	}
}

// a second create with the same email fails and the store keeps one record.
func TestCreate_DuplicateEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	_, err := svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "Passw0rd!", Name: "B"})
	assertCode(t, err, apperror.CodeDuplicateAccount)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}

	list, _ := repo.ListAll(context.Background())
	if len(list) != 1 {
		t.Errorf("store has %d users, want 1", len(list))
	}
}

func TestCreate_DuplicateEmailDifferentCase(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	_, err := svc.Create(context.Background(), CreateUserInput{Email: "  A@X.COM ", Password: "Passw0rd!", Name: "B"})
	assertCode(t, err, apperror.CodeDuplicateAccount)
}

// The pre-check can race with another request; the store has the last word.
func TestCreate_StoreUniquenessViolation(t *testing.T) {
	repo := newFakeUserRepo()
	repo.insertErr = repository.ErrUniquenessViolation
	svc := newTestIdentityService(t, repo)

	_, err := svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "Passw0rd!", Name: "A"})
	assertCode(t, err, apperror.CodeDuplicateAccount)
}

func TestCreate_ConcurrentSameEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), CreateUserInput{Email: "race@x.com", Password: "Passw0rd!", Name: "R"})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !apperror.HasCode(err, apperror.CodeDuplicateAccount) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("%d creates succeeded, want exactly 1", ok)
	}
}

func TestCreate_InvalidInputTouchesNothing(t *testing.T) {
	tests := []struct {
		name  string
		input CreateUserInput
		field string
	}{
		{"missing email", CreateUserInput{Password: "Passw0rd!", Name: "A"}, "email"},
		{"bad email", CreateUserInput{Email: "not-an-email", Password: "Passw0rd!", Name: "A"}, "email"},
		{"display name email", CreateUserInput{Email: "A <a@x.com>", Password: "Passw0rd!", Name: "A"}, "email"},
		{"blank name", CreateUserInput{Email: "a@x.com", Password: "Passw0rd!", Name: "   "}, "name"},
		{"weak password", CreateUserInput{Email: "a@x.com", Password: "abc", Name: "A"}, "password"},
		{"missing password", CreateUserInput{Email: "a@x.com", Name: "A"}, "password"},
		{"password over 72 bytes", CreateUserInput{Email: "a@x.com", Password: "Aa" + strings.Repeat("😀", 18), Name: "A"}, "password"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeUserRepo()
			svc := newTestIdentityService(t, repo)

			_, err := svc.Create(context.Background(), tc.input)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != tc.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tc.field)
			}
			if len(repo.calls) != 0 {
				t.Errorf("store was called: %v", repo.calls)
			}
		})
	}
}

func TestCreate_HashingErrorPropagates(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewIdentityService(repo, failingHasher{}, nil, discardLogger())

	_, err := svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "Passw0rd!", Name: "A"})
	if !errors.Is(err, auth.ErrHashing) {
		t.Fatalf("Create() error = %v, want ErrHashing", err)
	}
	if repo.writes() != 0 {
		t.Error("a user was inserted despite the hashing failure")
	}
}

func TestCreate_StoreFailure(t *testing.T) {
	repo := newFakeUserRepo()
	repo.findErr = errDB
	svc := newTestIdentityService(t, repo)

	_, err := svc.Create(context.Background(), CreateUserInput{Email: "a@x.com", Password: "Passw0rd!", Name: "A"})
	if !errors.Is(err, errDB) {
		t.Fatalf("Create() error = %v, want wrapped errDB", err)
	}
}

// =========================================================================
// AUTHENTICATE TESTS
// =========================================================================

func TestAuthenticate(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	created := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	u, err := svc.Authenticate(context.Background(), "a@x.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.ID != created.ID {
		t.Errorf("ID = %d, want %d", u.ID, created.ID)
	}
	if u.PasswordHash != "" {
		t.Error("Authenticate() returned the password hash")
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "a@x.com", "wrong"},
		{"unknown email", "nobody@x.com", "Passw0rd!"},
		{"empty email", "", "Passw0rd!"},
		{"empty password", "a@x.com", ""},
	}

	var messages []string
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Authenticate(context.Background(), tc.email, tc.password)
			assertCode(t, err, apperror.CodeInvalidCredentials)
			messages = append(messages, err.Error())
		})
	}

	// No failure may reveal whether the email exists.
	for _, m := range messages[1:] {
		if m != messages[0] {
			t.Errorf("failure messages differ: %q vs %q", m, messages[0])
		}
	}
}

func TestAuthenticate_EmailIgnoresCaseAndSpace(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	if _, err := svc.Authenticate(context.Background(), " A@X.com ", "Passw0rd!"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
}

func TestAuthenticate_StoreFailureIsNotInvalidCredentials(t *testing.T) {
	repo := newFakeUserRepo()
	repo.findErr = errDB
	svc := newTestIdentityService(t, repo)

	_, err := svc.Authenticate(context.Background(), "a@x.com", "Passw0rd!")
	if !errors.Is(err, errDB) {
		t.Fatalf("Authenticate() error = %v, want wrapped errDB", err)
	}
}

// The throwaway hash that pads unknown-email logins is retried after a
// hashing fault instead of being given up for the life of the service.
func TestAuthenticate_UnknownEmailRetriesDummyHash(t *testing.T) {
	repo := newFakeUserRepo()
	hasher := &flakyHasher{
		PasswordHasher: auth.NewCredentialHasher(auth.NewBcryptHasherForTest(), 0),
		hashFailures:   1,
	}
	svc := NewIdentityService(repo, hasher, nil, discardLogger())

	for i := 0; i < 2; i++ {
		_, err := svc.Authenticate(context.Background(), "nobody@x.com", "Passw0rd!")
		assertCode(t, err, apperror.CodeInvalidCredentials)
	}

	if got := hasher.hashCalls(); got != 2 {
		t.Errorf("Hash calls = %d, want 2 (one failure, one retry)", got)
	}
	if got := hasher.verifyCalls(); got != 1 {
		t.Errorf("Verify calls = %d, want 1 after the retry succeeded", got)
	}

	// Once computed, the throwaway hash is reused.
	_, _ = svc.Authenticate(context.Background(), "nobody@x.com", "Passw0rd!")
	if got := hasher.hashCalls(); got != 2 {
		t.Errorf("Hash calls = %d, want 2", got)
	}
	if got := hasher.verifyCalls(); got != 2 {
		t.Errorf("Verify calls = %d, want 2", got)
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestGetByID(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	created := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	u, err := svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if u.Email != "a@x.com" || u.PasswordHash != "" {
		t.Errorf("GetByID() = %+v", u)
	}

	_, err = svc.GetByID(context.Background(), 999)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID(999) error = %v, want ErrNotFound", err)
	}
}

func TestListAll(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	a := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")
	b := createTestUser(t, svc, "b@x.com", "Passw0rd!", "B")

	list, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("ListAll() = %+v", list)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdate_NameOnly(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")
	before := repo.storedHash(t, u.ID)

	got, err := svc.Update(context.Background(), u.ID, UpdateUserInput{Name: ptr("  Alice ")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", got.Name)
	}
	if repo.storedHash(t, u.ID) != before {
		t.Error("a name-only update changed the password hash")
	}
}

func TestUpdate_PasswordChange(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")
	ctx := context.Background()

	got, err := svc.Update(ctx, u.ID, UpdateUserInput{
		Name:        ptr("Alice"),
		Password:    ptr("Passw0rd!"),
		NewPassword: ptr("N3wSecret"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != "Alice" || got.PasswordHash != "" {
		t.Errorf("Update() = %+v", got)
	}

	if _, err := svc.Authenticate(ctx, "a@x.com", "N3wSecret"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	_, err = svc.Authenticate(ctx, "a@x.com", "Passw0rd!")
	assertCode(t, err, apperror.CodeInvalidCredentials)
}

// a wrong current password leaves the stored hash unchanged, and the
// name sent in the same request is not applied either.
func TestUpdate_WrongCurrentPasswordChangesNothing(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")
	before := repo.storedHash(t, u.ID)

	_, err := svc.Update(context.Background(), u.ID, UpdateUserInput{
		Name:        ptr("Mallory"),
		Password:    ptr("WrongPass1"),
		NewPassword: ptr("N3wSecret"),
	})
	assertCode(t, err, apperror.CodeInvalidCurrentPassword)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}

	if repo.storedHash(t, u.ID) != before {
		t.Error("stored hash changed after a failed re-proof")
	}
	stored, _ := repo.FindByID(context.Background(), u.ID)
	if stored.Name != "A" {
		t.Errorf("Name = %q, want the original A", stored.Name)
	}
	if repo.calls["Update"] != 0 {
		t.Error("store Update was called")
	}
}

// Through the service, a weak new password is rejected with no store
// interaction at all.
func TestUpdate_WeakPasswordNoStoreWrite(t *testing.T) {
	for _, weak := range []string{"abc", "alllowercase1", "ALLUPPER1", "Weak", "Aa" + strings.Repeat("😀", 18)} {
		t.Run(weak, func(t *testing.T) {
			repo := newFakeUserRepo()
			svc := newTestIdentityService(t, repo)
			u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")
			before := repo.storedHash(t, u.ID)
			repo.calls = map[string]int{}

			_, err := svc.Update(context.Background(), u.ID, UpdateUserInput{
				Password:    ptr("Passw0rd!"),
				NewPassword: ptr(weak),
			})
			assertCode(t, err, apperror.CodeWeakPassword)

			if len(repo.calls) != 0 {
				t.Errorf("store was called: %v", repo.calls)
			}
			if repo.storedHash(t, u.ID) != before {
				t.Error("stored hash changed")
			}
		})
	}
}

func TestUpdate_StrongPasswordAccepted(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	_, err := svc.Update(context.Background(), u.ID, UpdateUserInput{
		Password:    ptr("Passw0rd!"),
		NewPassword: ptr("Abcd123!"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)

	_, err := svc.Update(context.Background(), 42, UpdateUserInput{Name: ptr("x")})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_EmptyPatchReturnsCurrent(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	got, err := svc.Update(context.Background(), u.ID, UpdateUserInput{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != "A" {
		t.Errorf("Name = %q, want A", got.Name)
	}
	if repo.calls["Update"] != 0 {
		t.Error("empty update reached the store")
	}
}

func TestUpdate_MalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input UpdateUserInput
	}{
		{"new password without current", UpdateUserInput{NewPassword: ptr("N3wSecret")}},
		{"current password without new", UpdateUserInput{Password: ptr("Passw0rd!")}},
		{"blank name", UpdateUserInput{Name: ptr(" ")}},
		{"long name", UpdateUserInput{Name: ptr(strings.Repeat("x", 101))}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeUserRepo()
			svc := newTestIdentityService(t, repo)

			_, err := svc.Update(context.Background(), 1, tc.input)
			assertCode(t, err, apperror.CodeValidation)
			if len(repo.calls) != 0 {
				t.Errorf("store was called: %v", repo.calls)
			}
		})
	}
}

func TestUpdate_HashingErrorPropagates(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")

	broken := NewIdentityService(repo, failingHasher{}, nil, discardLogger())
	_, err := broken.Update(context.Background(), u.ID, UpdateUserInput{
		Password:    ptr("Passw0rd!"),
		NewPassword: ptr("N3wSecret"),
	})
	if !errors.Is(err, auth.ErrHashing) {
		t.Fatalf("Update() error = %v, want ErrHashing", err)
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

// deletion is terminal.
func TestDelete(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestIdentityService(t, repo)
	u := createTestUser(t, svc, "a@x.com", "Passw0rd!", "A")
	ctx := context.Background()

	removed, err := svc.Delete(ctx, u.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if removed.ID != u.ID || removed.PasswordHash != "" {
		t.Errorf("Delete() = %+v", removed)
	}

	_, err = svc.GetByID(ctx, u.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}

	_, err = svc.Delete(ctx, u.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
