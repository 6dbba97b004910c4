package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/tourhub/internal/domain/user"
)

// UsersRepo is the in-process credential store. Each method holds the lock for
// its whole read-modify-write, which gives the same atomicity as the single
// UPDATE statements of the postgres store.
type UsersRepo struct {
	mu    sync.RWMutex
	items map[string]user.User // {"id": user}
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items: make(map[string]user.User),
	}
}

func visible(u user.User, scope user.Scope) bool {
	return u.Active || scope == user.IncludeInactive
}

// clone copies the pointer fields so callers can't mutate stored state.
func clone(u user.User) user.User {
	if u.PasswordChangedAt != nil {
		t := *u.PasswordChangedAt
		u.PasswordChangedAt = &t
	}
	if u.PasswordResetTokenHash != nil {
		h := *u.PasswordResetTokenHash
		u.PasswordResetTokenHash = &h
	}
	if u.PasswordResetExpiresAt != nil {
		t := *u.PasswordResetExpiresAt
		u.PasswordResetExpiresAt = &t
	}
	return u
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string, scope user.Scope) (user.User, error) {
	email = user.NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.Email == email && visible(u, scope) {
			return clone(u), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) GetByID(_ context.Context, id string, scope user.Scope) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok || !visible(u, scope) {
		return user.User{}, user.ErrNotFound
	}
	return clone(u), nil
}

func (r *UsersRepo) Create(_ context.Context, in user.User) (user.User, error) {
	in.Email = user.NormalizeEmail(in.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	// uniqueness covers inactive users too, like the table constraint
	for _, u := range r.items {
		if u.Email == in.Email {
			return user.User{}, user.ErrEmailTaken
		}
	}

	r.items[in.ID] = clone(in)
	return clone(in), nil
}

func (r *UsersRepo) UpdatePassword(_ context.Context, id, hash string, changedAt time.Time) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || !u.Active {
		return user.User{}, user.ErrNotFound
	}

	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u

	return clone(u), nil
}

func (r *UsersRepo) SetPasswordReset(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || !u.Active {
		return user.ErrNotFound
	}

	u.PasswordResetTokenHash = &tokenHash
	u.PasswordResetExpiresAt = &expiresAt
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}

func (r *UsersRepo) ClearPasswordReset(_ context.Context, id, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || u.PasswordResetTokenHash == nil || *u.PasswordResetTokenHash != tokenHash {
		return nil
	}

	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}

func (r *UsersRepo) GetByResetToken(_ context.Context, tokenHash string, now time.Time) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if resetMatches(u, tokenHash, now) {
			return clone(u), nil
		}
	}
	return user.User{}, user.ErrResetTokenInvalid
}

func resetMatches(u user.User, tokenHash string, now time.Time) bool {
	if !u.Active || u.PasswordResetTokenHash == nil || u.PasswordResetExpiresAt == nil {
		return false
	}
	return *u.PasswordResetTokenHash == tokenHash && u.PasswordResetExpiresAt.After(now)
}

func (r *UsersRepo) ResetPassword(_ context.Context, tokenHash, newHash string, changedAt, now time.Time) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.items {
		if !resetMatches(u, tokenHash, now) {
			continue
		}

		u.PasswordHash = newHash
		u.PasswordChangedAt = &changedAt
		u.PasswordResetTokenHash = nil
		u.PasswordResetExpiresAt = nil
		u.UpdatedAt = time.Now().UTC()
		r.items[id] = u

		return clone(u), nil
	}

	return user.User{}, user.ErrResetTokenInvalid
}

func (r *UsersRepo) UpdateProfile(_ context.Context, id string, patch user.ProfilePatch) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || !u.Active {
		return user.User{}, user.ErrNotFound
	}

	if patch.Email != nil {
		email := user.NormalizeEmail(*patch.Email)
		for otherID, other := range r.items {
			if otherID != id && other.Email == email {
				return user.User{}, user.ErrEmailTaken
			}
		}
		u.Email = email
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Photo != nil {
		u.Photo = *patch.Photo
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u

	return clone(u), nil
}

func (r *UsersRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || !u.Active {
		return user.ErrNotFound
	}

	u.Active = false
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}

func (r *UsersRepo) List(_ context.Context, scope user.Scope, limit, offset int) ([]user.User, int, error) {
	r.mu.RLock()
	all := make([]user.User, 0, len(r.items))
	for _, u := range r.items {
		if visible(u, scope) {
			all = append(all, clone(u))
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []user.User{}, total, nil
	}

	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *UsersRepo) PurgeExpiredResets(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, u := range r.items {
		if u.PasswordResetExpiresAt == nil || u.PasswordResetExpiresAt.After(now) {
			continue
		}
		u.PasswordResetTokenHash = nil
		u.PasswordResetExpiresAt = nil
		r.items[id] = u
		n++
	}
	return n, nil
}

func (r *UsersRepo) Ping(context.Context) error { return nil }
