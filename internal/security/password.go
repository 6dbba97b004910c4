package security

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const DefaultCost = 12

// MaxPasswordBytes is the bcrypt input limit. It counts bytes, not characters.
const MaxPasswordBytes = 72

var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

// Hasher bounds concurrent bcrypt work so a burst of logins queues instead of
// taking every core away from the rest of the server.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummy     []byte
}

func NewHasher(cost, concurrency int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	return &Hasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(concurrency)),
	}
}

func (h *Hasher) Cost() int { return h.cost }

// Hash password hashes a plain text password with bcrypt. Passwords over
// MaxPasswordBytes fail with ErrPasswordTooLong before any work is queued.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Verify compares a bcrypt hash with a plaintext password. A mismatch is
// (false, nil); a cancelled wait for a hashing slot or an unreadable hash is
// an error, so callers do not mistake backpressure for a wrong password.
func (h *Hasher) Verify(ctx context.Context, hash, plain string) (bool, error) {
	// nothing longer was ever hashed, so it cannot match
	if len(plain) > MaxPasswordBytes {
		return false, nil
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// VerifyDummy spends one comparison at the configured cost and never matches.
// Login calls it for unknown emails so both failures take as long. It only
// fails when Verify would have failed for the same context.
func (h *Hasher) VerifyDummy(ctx context.Context, plain string) error {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("tourhub-dummy-password"), h.cost)
	})

	_, err := h.Verify(ctx, string(h.dummy), plain)
	return err
}
