package db

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/tourhub/internal/config"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/security"
	"github.com/google/uuid"
)

type AdminStore interface {
	GetByEmail(ctx context.Context, email string, scope user.Scope) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
}

// EnsureAdminUser creates the configured admin account if no user, active or
// not, holds that email yet. It never touches an existing account.
func EnsureAdminUser(ctx context.Context, store AdminStore, hasher *security.Hasher, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	_, err := store.GetByEmail(ctx, cfg.AdminEmail, user.IncludeInactive)
	if err == nil {
		return nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return err
	}

	hash, err := hasher.Hash(ctx, cfg.AdminPassword)
	if err != nil {
		return err
	}

	name := cfg.AdminName
	if name == "" {
		name = "Admin"
	}

	now := time.Now().UTC()

	_, err = store.Create(ctx, user.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        user.NormalizeEmail(cfg.AdminEmail),
		Photo:        user.DefaultPhoto,
		Role:         user.RoleAdmin,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, user.ErrEmailTaken) {
		// another instance won the race
		return nil
	}
	return err
}
