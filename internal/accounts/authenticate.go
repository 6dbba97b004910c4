package accounts

import (
	"context"
	"errors"

	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/domain/user"
)

var (
	ErrNotLoggedIn     = apperr.Unauthenticated("not_logged_in", "You are not logged in! Please log in to get access.")
	ErrInvalidSession  = apperr.Unauthenticated("invalid_session", "Invalid or expired session. Please log in again.")
	errUserGone        = apperr.Unauthenticated("user_no_longer_exists", "The user belonging to this token no longer exists.")
	errPasswordChanged = apperr.Unauthenticated("password_changed", "User recently changed password! Please log in again.")
)

// Authenticate resolves a bearer token to the current user. It verifies the
// token, reloads the user (inactive users count as gone) and rejects tokens
// issued before the last password change.
func (s *Service) Authenticate(ctx context.Context, token string) (u user.User, err error) {
	ctx, span := s.start(ctx, "authenticate")
	defer func() { s.finish(span, "authenticate", err) }()

	if token == "" {
		return user.User{}, ErrNotLoggedIn
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return user.User{}, apperr.Wrap(ErrInvalidSession.Kind, ErrInvalidSession.Code, ErrInvalidSession.Message, err)
	}

	u, err = s.store.GetByID(ctx, claims.UserID, user.ActiveOnly)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, errUserGone
		}
		return user.User{}, storeErr(err)
	}

	if u.ChangedPasswordAfter(claims.IssuedAtTime()) {
		return user.User{}, errPasswordChanged
	}

	return u, nil
}
