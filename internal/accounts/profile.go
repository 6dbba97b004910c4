package accounts

import (
	"context"
	"errors"

	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/domain/user"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	errNoSuchUser        = apperr.NotFoundf("not_found", "No user found with that ID")
	errNothingToUpdate   = apperr.Validationf("nothing_to_update", "No updatable fields provided")
	errPasswordViaUpdate = apperr.Validationf("password_update_not_allowed", "This route is not for password updates. Please use /updateMyPassword.")
	errEmailTaken        = apperr.Conflictf("email_taken", "Email is already in use")
)

type ListQuery struct {
	Page            int
	Limit           int
	IncludeInactive bool
}

func (q ListQuery) normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return q
}

type ListResult struct {
	Users []user.Profile `json:"users"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

func (s *Service) GetMe(ctx context.Context, userID string) (user.Profile, error) {
	return s.GetUser(ctx, userID)
}

// UpdateMe changes the caller's own name, email or photo. Password fields are
// rejected outright.
func (s *Service) UpdateMe(ctx context.Context, userID string, req user.UpdateMeRequest) (p user.Profile, err error) {
	ctx, span := s.start(ctx, "update_me")
	defer func() { s.finish(span, "update_me", err) }()

	if req.Password != nil || req.PasswordConfirm != nil {
		return user.Profile{}, errPasswordViaUpdate
	}

	return s.applyPatch(ctx, userID, user.ProfilePatch{
		Name:  req.Name,
		Email: req.Email,
		Photo: req.Photo,
	})
}

// DeleteMe deactivates the caller's account. The record stays.
func (s *Service) DeleteMe(ctx context.Context, userID string) (err error) {
	ctx, span := s.start(ctx, "delete_me")
	defer func() { s.finish(span, "delete_me", err) }()

	return s.deactivate(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context, q ListQuery) (res ListResult, err error) {
	ctx, span := s.start(ctx, "list_users")
	defer func() { s.finish(span, "list_users", err) }()

	q = q.normalize()
	scope := user.ActiveOnly
	if q.IncludeInactive {
		scope = user.IncludeInactive
	}

	users, total, err := s.store.List(ctx, scope, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return ListResult{}, storeErr(err)
	}

	out := make([]user.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}

	return ListResult{Users: out, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (user.Profile, error) {
	u, err := s.store.GetByID(ctx, id, user.ActiveOnly)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Profile{}, errNoSuchUser
		}
		return user.Profile{}, storeErr(err)
	}
	return u.Public(), nil
}

// UpdateUser is the admin edit. It can change name, email and role but never
// the password.
func (s *Service) UpdateUser(ctx context.Context, id string, req user.AdminUpdateRequest) (p user.Profile, err error) {
	ctx, span := s.start(ctx, "update_user")
	defer func() { s.finish(span, "update_user", err) }()

	if req.Password != nil {
		return user.Profile{}, errPasswordViaUpdate
	}

	patch := user.ProfilePatch{Name: req.Name, Email: req.Email}
	if req.Role != nil {
		role, ok := user.ParseRole(*req.Role)
		if !ok {
			return user.Profile{}, apperr.Validationf("invalid_role", "Role must be one of user, guide, lead-guide, admin")
		}
		patch.Role = &role
	}

	return s.applyPatch(ctx, id, patch)
}

func (s *Service) DeleteUser(ctx context.Context, id string) (err error) {
	ctx, span := s.start(ctx, "delete_user")
	defer func() { s.finish(span, "delete_user", err) }()

	return s.deactivate(ctx, id)
}

func (s *Service) applyPatch(ctx context.Context, id string, patch user.ProfilePatch) (user.Profile, error) {
	if patch.Empty() {
		return user.Profile{}, errNothingToUpdate
	}

	u, err := s.store.UpdateProfile(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			return user.Profile{}, errNoSuchUser
		case errors.Is(err, user.ErrEmailTaken):
			return user.Profile{}, errEmailTaken
		default:
			return user.Profile{}, storeErr(err)
		}
	}
	return u.Public(), nil
}

func (s *Service) deactivate(ctx context.Context, id string) error {
	if err := s.store.Deactivate(ctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return errNoSuchUser
		}
		return storeErr(err)
	}

	s.log.InfoContext(ctx, "user deactivated", "user_id", id)
	return nil
}
