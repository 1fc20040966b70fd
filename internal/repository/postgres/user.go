package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, name, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func notFound(id int64) error {
	return apperror.NotFound("user", strconv.FormatInt(id, 10))
}

// Insert adds a user. Email uniqueness is enforced case-insensitively by the
// users_email_lower_key index.
func (db *DB) Insert(ctx context.Context, user *model.User) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		user.Email, user.Name, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrUniquenessViolation
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (db *DB) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("postgres: getting user %d: %w", id, err)
	}
	return u, nil
}

func (db *DB) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Code:    apperror.CodeNotFound,
				Message: "User not found",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}

// Update changes the patched columns in a single statement.
func (db *DB) Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	if patch.Empty() {
		return db.FindByID(ctx, id)
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if patch.Name != nil {
		args = append(args, *patch.Name)
		sets = append(sets, "name = $"+strconv.Itoa(len(args)))
	}
	if patch.PasswordHash != nil {
		args = append(args, *patch.PasswordHash)
		sets = append(sets, "password_hash = $"+strconv.Itoa(len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	u, err := scanUser(db.pool.QueryRow(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+
			` WHERE id = $`+strconv.Itoa(len(args))+
			` RETURNING `+userColumns,
		args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("postgres: updating user %d: %w", id, err)
	}
	return u, nil
}

// Delete removes the user and returns the deleted row.
func (db *DB) Delete(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx,
		`DELETE FROM users WHERE id = $1 RETURNING `+userColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("postgres: deleting user %d: %w", id, err)
	}
	return u, nil
}

func (db *DB) ListAll(ctx context.Context) ([]model.UserSummary, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, email, name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users: %w", err)
	}

	users, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.UserSummary])
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning users: %w", err)
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
