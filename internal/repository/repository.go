// Package repository defines the persistence contract for user records.
//
// Implementations live in sub-packages (sqlite, postgres). The service layer
// depends only on the interface, so stores are swapped in server.New.
package repository

import (
	"context"
	"errors"

	"github.com/sakif/identity/internal/model"
)

// ErrUniquenessViolation is returned by Insert when another live user
// already owns the email. The store's unique index is the final arbiter;
// a service-level pre-check cannot close the check-then-insert race.
var ErrUniquenessViolation = errors.New("repository: uniqueness violation")

// UserRepository is the user store adapter. Lookups of an absent user
// return an error wrapping apperror.ErrNotFound.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// Insert persists user and fills in ID, CreatedAt and UpdatedAt.
	Insert(ctx context.Context, user *model.User) error
	// Update applies patch atomically and returns the stored result.
	Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error)
	// Delete removes the user and returns its last stored state.
	Delete(ctx context.Context, id int64) (*model.User, error)
	// ListAll never reads password material.
	ListAll(ctx context.Context) ([]model.UserSummary, error)
	Ping(ctx context.Context) error
}
