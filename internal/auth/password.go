// WHY BCRYPT?
// bcrypt is a password hashing function specifically designed to be slow.
// That slowness is a security feature: it makes brute-force attacks expensive.
//
// bcrypt automatically:
//   - Generates a random salt (so two users with the same password get different hashes)
//   - Embeds the salt in the output hash (no separate salt column needed)
//   - Controls the work factor via "cost" (higher = slower = harder to crack)
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version

package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt work factor used in production.
//
// Set cost so that hashing takes ~200–300ms on your production hardware.
// Too low → easy to crack. Too high → login is sluggish and the server
// spends all its time on bcrypt during traffic spikes.
const DefaultBcryptCost = 12

// bcryptMaxBytes is the input limit of bcrypt; longer inputs are truncated
// by the algorithm, so we refuse them instead.
const bcryptMaxBytes = 72

// Hasher is one concrete password hashing scheme.
//
// Verify returns (false, nil) for a password that does not match and a
// non-nil error only when the stored hash itself cannot be used.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) (bool, error)
	// Recognizes reports whether hash was produced by this scheme.
	Recognizes(hash string) bool
}

// BcryptHasher provides bcrypt hashing and verification.
//
// The cost is a field so tests can inject bcrypt.MinCost (4), which makes
// them run in milliseconds instead of ~250ms per hash.
type BcryptHasher struct {
	cost int
}

var _ Hasher = (*BcryptHasher)(nil)

// NewBcryptHasher creates a BcryptHasher with the given cost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// NewBcryptHasherForTest returns a BcryptHasher with bcrypt.MinCost.
// Do NOT use in production: cost 4 is far too weak.
func NewBcryptHasherForTest() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.MinCost}
}

// Hash hashes the given plaintext password with bcrypt.
//
// Store the output directly. It includes the salt and cost, and
// bcrypt.CompareHashAndPassword knows how to decode it.
func (b *BcryptHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > bcryptMaxBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", bcryptMaxBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
//
// bcrypt.CompareHashAndPassword compares in constant time, so response time
// does not reveal where a mismatch occurs.
func (b *BcryptHasher) Verify(hash, plaintext string) (bool, error) {
	if len(plaintext) > bcryptMaxBytes {
		// Never hashed by us, so it cannot match.
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return true, nil
}

// Recognizes reports whether hash uses one of the bcrypt version prefixes.
func (b *BcryptHasher) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}
