package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// ErrHashing marks an internal fault of the credential hasher. It is never a
// password mismatch and callers surface it as a 500.
var ErrHashing = errors.New("auth: credential hashing failed")

// CredentialHasher is the hasher the services depend on.
//
// New hashes always use the primary scheme. Verification dispatches on the
// stored hash prefix, so accounts hashed under a previous HASH_ALGORITHM keep
// working after the setting changes.
//
// Hashing is CPU bound. A weighted semaphore caps how many hash or verify
// computations run at once; callers waiting for a slot give up when their
// context is cancelled.
type CredentialHasher struct {
	primary Hasher
	schemes []Hasher
	slots   *semaphore.Weighted
}

// NewCredentialHasher builds a CredentialHasher. concurrency <= 0 means
// GOMAXPROCS. Extra schemes are only used for verification.
func NewCredentialHasher(primary Hasher, concurrency int, extra ...Hasher) *CredentialHasher {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	schemes := append([]Hasher{primary}, extra...)
	return &CredentialHasher{
		primary: primary,
		schemes: schemes,
		slots:   semaphore.NewWeighted(int64(concurrency)),
	}
}

// Hash returns a salted hash of secret. Any failure other than context
// cancellation wraps ErrHashing.
func (c *CredentialHasher) Hash(ctx context.Context, secret string) (string, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.slots.Release(1)

	hashed, err := c.primary.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashing, err)
	}
	return hashed, nil
}

// Verify reports whether secret matches hashed. A mismatch is (false, nil);
// an unusable stored hash wraps ErrHashing.
func (c *CredentialHasher) Verify(ctx context.Context, secret, hashed string) (bool, error) {
	scheme := c.schemeFor(hashed)
	if scheme == nil {
		return false, fmt.Errorf("%w: unrecognized hash format", ErrHashing)
	}

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer c.slots.Release(1)

	ok, err := scheme.Verify(hashed, secret)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrHashing, err)
	}
	return ok, nil
}

func (c *CredentialHasher) schemeFor(hashed string) Hasher {
	for _, s := range c.schemes {
		if s.Recognizes(hashed) {
			return s
		}
	}
	return nil
}
