package security

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 2)
	ctx := context.Background()

	hash, err := h.Hash(ctx, "secret123")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}

	if strings.Contains(hash, "secret123") {
		t.Fatalf("hash contains plaintext")
	}

	if ok, err := h.Verify(ctx, hash, "secret123"); !ok || err != nil {
		t.Fatalf("Verify() should accept the right password, got %v %v", ok, err)
	}

	if ok, err := h.Verify(ctx, hash, "secret124"); ok || err != nil {
		t.Fatalf("Verify() should reject a wrong password without error, got %v %v", ok, err)
	}

	if ok, err := h.Verify(ctx, hash, strings.Repeat("é", 40)); ok || err != nil {
		t.Fatalf("Verify() should reject an overlong password without error, got %v %v", ok, err)
	}

	if ok, err := h.Verify(ctx, "not-a-hash", "secret123"); ok || err == nil {
		t.Fatalf("Verify() should report a malformed hash as an error, got %v %v", ok, err)
	}
}

func TestHasher_SaltsEveryHash(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 1)
	ctx := context.Background()

	a, _ := h.Hash(ctx, "secret123")
	b, _ := h.Hash(ctx, "secret123")
	if a == b {
		t.Fatalf("two hashes of the same password should differ")
	}
}

func TestHasher_DefaultsInvalidCost(t *testing.T) {
	h := NewHasher(99, 0)
	if h.Cost() != DefaultCost {
		t.Fatalf("Cost() = %d, want %d", h.Cost(), DefaultCost)
	}
}

func TestHasher_CancelledContext(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 1)

	// hold the only slot so Acquire has to wait on the context
	if err := h.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Hash(ctx, "secret123"); err == nil {
		t.Fatalf("Hash() should fail on a cancelled context")
	}
	if ok, err := h.Verify(ctx, "$2a$04$abc", "secret123"); ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("Verify() = %v, %v; want false, context.Canceled", ok, err)
	}
	if err := h.VerifyDummy(ctx, "secret123"); !errors.Is(err, context.Canceled) {
		t.Fatalf("VerifyDummy() = %v, want context.Canceled", err)
	}
}

func TestHasher_VerifyDummyAlwaysFalse(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 1)
	if err := h.VerifyDummy(context.Background(), "tourhub-dummy-password"); err != nil {
		t.Fatalf("VerifyDummy() error: %v", err)
	}
}
