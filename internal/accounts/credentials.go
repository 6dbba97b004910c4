package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/auth"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/notifications"
	"github.com/geocoder89/tourhub/internal/security"
	"github.com/google/uuid"
)

var (
	errIncorrectCredentials = apperr.Unauthenticated("incorrect_credentials", "Incorrect email or password")
	errPasswordMismatch     = apperr.Validationf("password_mismatch", "Passwords are not the same")
	errCurrentPasswordWrong = apperr.Unauthenticated("current_password_wrong", "Your current password is wrong")
	errInvalidResetToken    = apperr.Validationf("invalid_reset_token", "Token is invalid or has expired")
	errPasswordTooLong      = apperr.Validationf("password_too_long", "Password must be at most 72 bytes")
)

// checkNewPassword runs before any bcrypt work. bcrypt counts bytes, so a
// password of 40 two-byte characters is already over the limit.
func checkNewPassword(password, confirm string) error {
	if password != confirm {
		return errPasswordMismatch
	}
	if len(password) > security.MaxPasswordBytes {
		return errPasswordTooLong
	}
	return nil
}

func hashFailed(message string, err error) error {
	if errors.Is(err, security.ErrPasswordTooLong) {
		return errPasswordTooLong
	}
	return apperr.InternalErr(message, err)
}

func (s *Service) Signup(ctx context.Context, req user.SignupRequest) (sess Session, err error) {
	ctx, span := s.start(ctx, "signup")
	defer func() { s.finish(span, "signup", err) }()

	if err := checkNewPassword(req.Password, req.PasswordConfirm); err != nil {
		return Session{}, err
	}

	hash, err := s.hash(ctx, req.Password)
	if err != nil {
		return Session{}, hashFailed("Could not create user", err)
	}

	now := s.now().UTC()
	created, err := s.store.Create(ctx, user.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        user.NormalizeEmail(req.Email),
		Photo:        user.DefaultPhoto,
		Role:         user.RoleUser,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return Session{}, errEmailTaken
		}
		return Session{}, apperr.InternalErr("Could not create user", err)
	}

	s.log.InfoContext(ctx, "user signed up", "user_id", created.ID)
	return s.session(created)
}

// Login fails the same way for an unknown email, an inactive account and a
// wrong password. The unknown-email path still pays for a bcrypt compare.
func (s *Service) Login(ctx context.Context, req user.LoginRequest) (sess Session, err error) {
	ctx, span := s.start(ctx, "login")
	defer func() { s.finish(span, "login", err) }()

	u, err := s.store.GetByEmail(ctx, req.Email, user.ActiveOnly)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			if err := s.verifyDummy(ctx, req.Password); err != nil {
				return Session{}, apperr.InternalErr("Could not log in", err)
			}
			return Session{}, errIncorrectCredentials
		}
		return Session{}, storeErr(err)
	}

	ok, err := s.verify(ctx, u.PasswordHash, req.Password)
	if err != nil {
		return Session{}, apperr.InternalErr("Could not log in", err)
	}
	if !ok {
		return Session{}, errIncorrectCredentials
	}

	return s.session(u)
}

func (s *Service) ChangePassword(ctx context.Context, userID string, req user.UpdatePasswordRequest) (sess Session, err error) {
	ctx, span := s.start(ctx, "change_password")
	defer func() { s.finish(span, "change_password", err) }()

	u, err := s.store.GetByID(ctx, userID, user.ActiveOnly)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Session{}, errUserGone
		}
		return Session{}, storeErr(err)
	}

	ok, err := s.verify(ctx, u.PasswordHash, req.CurrentPassword)
	if err != nil {
		return Session{}, apperr.InternalErr("Could not update password", err)
	}
	if !ok {
		return Session{}, errCurrentPasswordWrong
	}
	if err := checkNewPassword(req.Password, req.PasswordConfirm); err != nil {
		return Session{}, err
	}

	hash, err := s.hash(ctx, req.Password)
	if err != nil {
		return Session{}, hashFailed("Could not update password", err)
	}

	u, err = s.store.UpdatePassword(ctx, u.ID, hash, s.passwordChangedAt())
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Session{}, errUserGone
		}
		return Session{}, storeErr(err)
	}

	s.log.InfoContext(ctx, "password changed", "user_id", u.ID)
	return s.session(u)
}

// ForgotPassword answers the same way whether or not the email belongs to an
// account. For a known account it stores a fresh reset token, replacing any
// earlier one, and mails the plaintext. A failed send clears the token again.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := s.start(ctx, "forgot_password")
	defer func() { s.finish(span, "forgot_password", err) }()

	u, err := s.store.GetByEmail(ctx, email, user.ActiveOnly)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.log.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return storeErr(err)
	}

	tok, err := s.resets.Generate()
	if err != nil {
		return apperr.InternalErr("Could not create reset token", err)
	}

	if err := s.store.SetPasswordReset(ctx, u.ID, tok.Hash, tok.ExpiresAt); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return storeErr(err)
	}

	sendErr := s.notifier.SendPasswordReset(ctx, notifications.PasswordResetInput{
		Email:    u.Email,
		Name:     u.Name,
		ResetURL: s.resetURL(tok.Plain),
	})
	if sendErr == nil {
		s.log.InfoContext(ctx, "password reset token sent", "user_id", u.ID)
		return nil
	}

	// the request may already be cancelled; the rollback must still run
	if err := s.store.ClearPasswordReset(context.WithoutCancel(ctx), u.ID, tok.Hash); err != nil {
		s.log.ErrorContext(ctx, "reset token rollback failed", "user_id", u.ID, "err", err)
	}

	return apperr.InternalErr("There was an error sending the email. Try again later!", sendErr)
}

// ResetPassword checks the token with a cheap lookup before paying for bcrypt,
// then consumes it atomically. Two requests racing on one token can both pass
// the lookup; only one wins the consuming update.
func (s *Service) ResetPassword(ctx context.Context, plainToken string, req user.ResetPasswordRequest) (sess Session, err error) {
	ctx, span := s.start(ctx, "reset_password")
	defer func() { s.finish(span, "reset_password", err) }()

	if !auth.WellFormedResetToken(plainToken) {
		return Session{}, errInvalidResetToken
	}
	if err := checkNewPassword(req.Password, req.PasswordConfirm); err != nil {
		return Session{}, err
	}

	tokenHash := auth.HashResetToken(plainToken)
	now := s.now().UTC()

	if _, err := s.store.GetByResetToken(ctx, tokenHash, now); err != nil {
		if errors.Is(err, user.ErrResetTokenInvalid) {
			return Session{}, errInvalidResetToken
		}
		return Session{}, storeErr(err)
	}

	hash, err := s.hash(ctx, req.Password)
	if err != nil {
		return Session{}, hashFailed("Could not reset password", err)
	}

	u, err := s.store.ResetPassword(ctx, tokenHash, hash, s.passwordChangedAt(), now)
	if err != nil {
		if errors.Is(err, user.ErrResetTokenInvalid) {
			return Session{}, errInvalidResetToken
		}
		return Session{}, storeErr(err)
	}

	s.log.InfoContext(ctx, "password reset", "user_id", u.ID)
	return s.session(u)
}

func (s *Service) resetURL(plain string) string {
	return strings.TrimRight(s.resetURLBase, "/") + "/" + plain
}
