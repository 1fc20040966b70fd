// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account.
//
// ID is assigned by the store on insert and never reused after deletion.
// PasswordHash only ever holds output of the credential hasher and is
// tagged `json:"-"` so it is absent from every serialized representation.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public returns a copy of u with the password hash cleared. Services return
// Public copies so the hash never leaves the service layer even in memory.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	return &out
}

// Summary returns the listing shape of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Email: u.Email, Name: u.Name}
}

// UserSummary is the row shape returned by user listings. The listing query
// selects only these columns.
type UserSummary struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserPatch lists the only fields of a stored user that may change after
// creation. A nil field is left untouched.
type UserPatch struct {
	Name         *string
	PasswordHash *string
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.PasswordHash == nil
}
