package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const resetTokenBytes = 32

// ResetToken is handed out once. Only Hash and ExpiresAt are ever stored.
type ResetToken struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

type ResetTokens struct {
	ttl time.Duration
	now func() time.Time
}

func NewResetTokens(ttl time.Duration) *ResetTokens {
	return &ResetTokens{ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (r *ResetTokens) WithClock(now func() time.Time) *ResetTokens {
	r.now = now
	return r
}

func (r *ResetTokens) Generate() (ResetToken, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return ResetToken{}, err
	}

	plain := hex.EncodeToString(buf)

	return ResetToken{
		Plain:     plain,
		Hash:      HashResetToken(plain),
		ExpiresAt: r.now().UTC().Add(r.ttl),
	}, nil
}

// WellFormedResetToken reports whether plain could have come from Generate:
// exactly 64 lowercase hex characters.
func WellFormedResetToken(plain string) bool {
	if len(plain) != hex.EncodedLen(resetTokenBytes) {
		return false
	}
	for i := 0; i < len(plain); i++ {
		c := plain[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HashResetToken is a plain SHA-256: the token already carries 256 bits of
// entropy, and lookups by hash have to stay cheap.
func HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
