package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, photo, role, password_hash, password_changed_at,
	password_reset_token_hash, password_reset_expires_at, active, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn, user.ErrNotFound)
	}
	return fn()
}

// scopeClause is appended to every read; soft-deleted users only show up when
// the caller asks for them.
func scopeClause(scope user.Scope) string {
	if scope == user.IncludeInactive {
		return ""
	}
	return " AND active = TRUE"
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Photo,
		&role,
		&u.PasswordHash,
		&u.PasswordChangedAt,
		&u.PasswordResetTokenHash,
		&u.PasswordResetExpiresAt,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string, scope user.Scope) (u user.User, err error) {
	err = r.observe("users.get_by_email", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`+scopeClause(scope),
			user.NormalizeEmail(email),
		))
		return e
	})
	return
}

func (r *UsersRepo) GetByID(ctx context.Context, id string, scope user.Scope) (u user.User, err error) {
	err = r.observe("users.get_by_id", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`+scopeClause(scope),
			id,
		))
		return e
	})
	return
}

func (r *UsersRepo) Create(ctx context.Context, in user.User) (u user.User, err error) {
	err = r.observe("users.create", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `
			INSERT INTO users (id, name, email, photo, role, password_hash, active, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING `+userColumns,
			in.ID, in.Name, user.NormalizeEmail(in.Email), in.Photo, string(in.Role),
			in.PasswordHash, in.Active, in.CreatedAt, in.UpdatedAt,
		))
		return e
	})

	if isEmailConflict(err) {
		return user.User{}, user.ErrEmailTaken
	}
	return
}

func (r *UsersRepo) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) (u user.User, err error) {
	err = r.observe("users.update_password", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users
			SET password_hash = $2,
				password_changed_at = $3,
				password_reset_token_hash = NULL,
				password_reset_expires_at = NULL,
				updated_at = NOW()
			WHERE id = $1 AND active = TRUE
			RETURNING `+userColumns,
			id, hash, changedAt,
		))
		return e
	})
	return
}

// SetPasswordReset overwrites whatever reset token the user had.
func (r *UsersRepo) SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	var tag pgconn.CommandTag

	err := r.observe("users.set_password_reset", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
			UPDATE users
			SET password_reset_token_hash = $2,
				password_reset_expires_at = $3,
				updated_at = NOW()
			WHERE id = $1 AND active = TRUE
		`, id, tokenHash, expiresAt)
		return e
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// ClearPasswordReset is the rollback for SetPasswordReset. It leaves a newer
// token alone.
func (r *UsersRepo) ClearPasswordReset(ctx context.Context, id, tokenHash string) error {
	return r.observe("users.clear_password_reset", func() error {
		_, e := r.pool.Exec(ctx, `
			UPDATE users
			SET password_reset_token_hash = NULL,
				password_reset_expires_at = NULL,
				updated_at = NOW()
			WHERE id = $1 AND password_reset_token_hash = $2
		`, id, tokenHash)
		return e
	})
}

// GetByResetToken finds the active user holding an unexpired reset token. It
// does not consume it; ResetPassword does.
func (r *UsersRepo) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (u user.User, err error) {
	err = r.observe("users.get_by_reset_token", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users
			WHERE password_reset_token_hash = $1
			  AND password_reset_expires_at > $2
			  AND active = TRUE`,
			tokenHash, now,
		))
		return e
	})

	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, user.ErrResetTokenInvalid
	}
	return
}

// ResetPassword consumes a reset token and sets the new password in one
// statement, so a token can win at most once.
func (r *UsersRepo) ResetPassword(ctx context.Context, tokenHash, newHash string, changedAt, now time.Time) (u user.User, err error) {
	err = r.observe("users.reset_password", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx, `
			UPDATE users
			SET password_hash = $2,
				password_changed_at = $3,
				password_reset_token_hash = NULL,
				password_reset_expires_at = NULL,
				updated_at = NOW()
			WHERE password_reset_token_hash = $1
			  AND password_reset_expires_at > $4
			  AND active = TRUE
			RETURNING `+userColumns,
			tokenHash, newHash, changedAt, now,
		))
		return e
	})

	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, user.ErrResetTokenInvalid
	}
	return
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, patch user.ProfilePatch) (u user.User, err error) {
	sets := make([]string, 0, 5)
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", user.NormalizeEmail(*patch.Email))
	}
	if patch.Photo != nil {
		add("photo", *patch.Photo)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	sets = append(sets, "updated_at = NOW()")

	err = r.observe("users.update_profile", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`UPDATE users SET `+strings.Join(sets, ", ")+
				` WHERE id = $1 AND active = TRUE RETURNING `+userColumns,
			args...,
		))
		return e
	})

	if isEmailConflict(err) {
		return user.User{}, user.ErrEmailTaken
	}
	return
}

func (r *UsersRepo) Deactivate(ctx context.Context, id string) error {
	var tag pgconn.CommandTag

	err := r.observe("users.deactivate", func() error {
		var e error
		tag, e = r.pool.Exec(ctx,
			`UPDATE users SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active = TRUE`, id)
		return e
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) List(ctx context.Context, scope user.Scope, limit, offset int) (users []user.User, total int, err error) {
	var rows pgx.Rows

	err = r.observe("users.list", func() error {
		var e error
		rows, e = r.pool.Query(ctx,
			`SELECT `+userColumns+`, COUNT(*) OVER() AS total
			FROM users WHERE TRUE`+scopeClause(scope)+`
			ORDER BY created_at ASC, id ASC
			LIMIT $1 OFFSET $2`,
			limit, offset,
		)
		return e
	})
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users = make([]user.User, 0, limit)

	for rows.Next() {
		var u user.User
		var role string

		e := rows.Scan(
			&u.ID, &u.Name, &u.Email, &u.Photo, &role, &u.PasswordHash, &u.PasswordChangedAt,
			&u.PasswordResetTokenHash, &u.PasswordResetExpiresAt, &u.Active, &u.CreatedAt, &u.UpdatedAt,
			&total,
		)
		if e != nil {
			return nil, 0, e
		}
		u.Role = user.Role(role)
		users = append(users, u)
	}

	if e := rows.Err(); e != nil {
		if r.prom != nil {
			r.prom.DbErrorsTotal.WithLabelValues("users.list", "rows_err").Inc()
		}
		return nil, 0, e
	}

	return users, total, nil
}

// PurgeExpiredResets clears reset pairs that can no longer be consumed.
func (r *UsersRepo) PurgeExpiredResets(ctx context.Context, now time.Time) (int64, error) {
	var tag pgconn.CommandTag

	err := r.observe("users.purge_expired_resets", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
			UPDATE users
			SET password_reset_token_hash = NULL,
				password_reset_expires_at = NULL
			WHERE password_reset_expires_at IS NOT NULL
			  AND password_reset_expires_at <= $1
		`, now)
		return e
	})
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func isEmailConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "users_email_key"
}
