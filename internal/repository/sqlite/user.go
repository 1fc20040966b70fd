package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/identity/internal/apperror"
	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, name, password_hash, created_at, updated_at`

// rowQueryer is satisfied by both *sql.DB and *sql.Tx.
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Insert adds a user. The id comes from AUTOINCREMENT, so ids of deleted
// users are never handed out again.
//
// The unique index on email (COLLATE NOCASE) rejects a concurrent duplicate
// even when both requests passed the service's pre-check.
func (db *DB) Insert(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.Email,
		user.Name,
		user.PasswordHash,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrUniquenessViolation
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading inserted user id: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// FindByID retrieves a user by id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (db *DB) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return findByID(ctx, db.conn, id)
}

func findByID(ctx context.Context, q rowQueryer, id int64) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// FindByEmail retrieves a user by email, ignoring case.
func (db *DB) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Code:    apperror.CodeNotFound,
				Message: "User not found",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// Update applies patch inside a transaction and reads the row back, so the
// caller sees exactly what was committed.
func (db *DB) Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	if patch.Empty() {
		return db.FindByID(ctx, id)
	}

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *patch.PasswordHash)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning update of user %d: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating user %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking update of user %d: %w", id, err)
	}
	if n == 0 {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}

	u, err := findByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing update of user %d: %w", id, err)
	}
	return u, nil
}

// Delete removes a user and returns the row as it was just before removal.
func (db *DB) Delete(ctx context.Context, id int64) (*model.User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning delete of user %d: %w", id, err)
	}
	defer tx.Rollback()

	u, err := findByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("sqlite: deleting user %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing delete of user %d: %w", id, err)
	}
	return u, nil
}

// ListAll returns every user ordered by id. The query does not select
// password_hash.
func (db *DB) ListAll(ctx context.Context) ([]model.UserSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, email, name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.UserSummary{}
	for rows.Next() {
		var u model.UserSummary
		if err := rows.Scan(&u.ID, &u.Email, &u.Name); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
