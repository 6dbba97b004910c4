package integration_test

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/tourhub/internal/auth"
	"github.com/geocoder89/tourhub/internal/db"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/repo/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// setupPostgres needs TEST_DB_DSN pointing at a disposable database; the users
// table is truncated.
func setupPostgres(t *testing.T) (*pgxpool.Pool, *postgres.UsersRepo) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return pool, postgres.NewUsersRepo(pool, nil)
}

func TestAuthFlow_Postgres(t *testing.T) {
	_, repo := setupPostgres(t)
	ts := newTestServer(t, repo)

	signup := ts.expect(t, call{method: http.MethodPost, path: "/api/v1/users/signup", body: signupBody}, http.StatusCreated)

	resp := ts.expect(t, call{method: http.MethodPost, path: "/api/v1/users/signup", body: signupBody}, http.StatusConflict)
	if resp.Error.Code != "email_taken" {
		t.Fatalf("duplicate signup: %+v", resp.Error)
	}

	ts.expect(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: signup.Token}, http.StatusOK)

	ts.expect(t, call{method: http.MethodPost, path: "/api/v1/users/forgotPassword", body: `{"email":"SAM@example.com"}`}, http.StatusOK)
	first := ts.notifier.lastToken(t)
	ts.expect(t, call{method: http.MethodPost, path: "/api/v1/users/forgotPassword", body: `{"email":"sam@example.com"}`}, http.StatusOK)
	second := ts.notifier.lastToken(t)

	body := `{"password":"resetpass1","passwordConfirm":"resetpass1"}`
	ts.expect(t, call{method: http.MethodPatch, path: "/api/v1/users/resetPassword/" + first, body: body}, http.StatusBadRequest)

	ts.clock.advance(5 * time.Second)
	ts.expect(t, call{method: http.MethodPatch, path: "/api/v1/users/resetPassword/" + second, body: body}, http.StatusOK)
	ts.expect(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: signup.Token}, http.StatusUnauthorized)
}

func TestResetPassword_ConcurrentConsumersPostgres(t *testing.T) {
	_, repo := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := repo.Create(ctx, user.User{
		ID: "00000000-0000-0000-0000-000000000001", Name: "Sam", Email: "sam@example.com",
		Photo: user.DefaultPhoto, Role: user.RoleUser, PasswordHash: "x", Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tok, err := auth.NewResetTokens(10 * time.Minute).Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := repo.SetPasswordReset(ctx, u.ID, tok.Hash, tok.ExpiresAt); err != nil {
		t.Fatalf("SetPasswordReset: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ResetPassword(ctx, tok.Hash, "new-hash", now, now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}

	// an expired pair is swept, a consumed one is already gone
	_ = repo.SetPasswordReset(ctx, u.ID, "stale", now.Add(-time.Minute))
	n, err := repo.PurgeExpiredResets(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredResets = %d, %v", n, err)
	}
}
