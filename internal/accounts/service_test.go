package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/auth"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/notifications"
	"github.com/geocoder89/tourhub/internal/repo/memory"
	"github.com/geocoder89/tourhub/internal/security"
	"golang.org/x/crypto/bcrypt"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifications.PasswordResetInput
	err  error
}

func (f *fakeNotifier) SendPasswordReset(_ context.Context, in notifications.PasswordResetInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, in)
	return nil
}

// lastToken returns the plaintext reset token from the most recent mail.
func (f *fakeNotifier) lastToken(t *testing.T) string {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sent) == 0 {
		t.Fatalf("no reset mail sent")
	}
	url := f.sent[len(f.sent)-1].ResetURL
	return url[strings.LastIndex(url, "/")+1:]
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc      *Service
	store    *memory.UsersRepo
	hasher   *security.Hasher
	notifier *fakeNotifier
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.NewUsersRepo(),
		hasher:   security.NewHasher(bcrypt.MinCost, 4),
		notifier: &fakeNotifier{},
		clock:    &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	tokens := auth.NewManager(auth.NewHMACSigner("test-secret-test-secret-test-secret"), time.Hour)
	resets := auth.NewResetTokens(10 * time.Minute)

	f.svc = NewService(f.store, f.hasher, tokens, resets, f.notifier, Options{
		ResetURLBase: "http://localhost:8080/api/v1/users/resetPassword/",
	}).WithClock(f.clock.now)

	return f
}

func (f *fixture) signup(t *testing.T, email, password string) Session {
	t.Helper()

	sess, err := f.svc.Signup(context.Background(), user.SignupRequest{
		Name:            "Sam",
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	return sess
}

func codeOf(err error) string {
	if err == nil {
		return ""
	}
	return apperr.As(err).Code
}

func TestSignup_StoresHashOnly(t *testing.T) {
	f := newFixture(t)
	sess := f.signup(t, "Sam@Example.com", "secret123")

	if sess.Token == "" || sess.User.Email != "sam@example.com" || sess.User.Role != user.RoleUser {
		t.Fatalf("unexpected session: %+v", sess)
	}

	stored, err := f.store.GetByID(context.Background(), sess.User.ID, user.ActiveOnly)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.PasswordHash == "secret123" || strings.Contains(stored.PasswordHash, "secret123") {
		t.Fatalf("plaintext password stored")
	}
	if ok, err := f.hasher.Verify(context.Background(), stored.PasswordHash, "secret123"); !ok || err != nil {
		t.Fatalf("stored hash does not verify")
	}
}

func TestSignup_PasswordMismatchCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Signup(context.Background(), user.SignupRequest{
		Name:            "Sam",
		Email:           "sam@example.com",
		Password:        "secret123",
		PasswordConfirm: "different",
	})
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := f.store.GetByEmail(context.Background(), "sam@example.com", user.IncludeInactive); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("record created despite mismatch: %v", err)
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "sam@example.com", "secret123")

	_, err := f.svc.Signup(context.Background(), user.SignupRequest{
		Name: "Other", Email: "SAM@example.com", Password: "secret123", PasswordConfirm: "secret123",
	})
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLogin_FailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "sam@example.com", "secret123")
	f.signup(t, "gone@example.com", "secret123")

	gone, _ := f.store.GetByEmail(context.Background(), "gone@example.com", user.ActiveOnly)
	_ = f.store.Deactivate(context.Background(), gone.ID)

	attempts := []user.LoginRequest{
		{Email: "sam@example.com", Password: "wrong-password"},
		{Email: "nobody@example.com", Password: "secret123"},
		{Email: "gone@example.com", Password: "secret123"},
	}
	for i := 0; i < 5; i++ {
		attempts = append(attempts, user.LoginRequest{Email: "sam@example.com", Password: "wrong-password"})
	}

	for _, req := range attempts {
		_, err := f.svc.Login(context.Background(), req)
		e := apperr.As(err)
		if e == nil || e.Kind != apperr.Authentication || e.Code != "incorrect_credentials" || e.Message != "Incorrect email or password" {
			t.Fatalf("Login(%s) = %v", req.Email, err)
		}
	}

	if _, err := f.svc.Login(context.Background(), user.LoginRequest{Email: "SAM@example.com", Password: "secret123"}); err != nil {
		t.Fatalf("valid login failed: %v", err)
	}
}

func TestChangePassword_InvalidatesOldTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.signup(t, "sam@example.com", "secret123")

	f.clock.advance(5 * time.Second)

	_, err := f.svc.ChangePassword(ctx, old.User.ID, user.UpdatePasswordRequest{
		CurrentPassword: "not-it", Password: "newsecret1", PasswordConfirm: "newsecret1",
	})
	if codeOf(err) != "current_password_wrong" {
		t.Fatalf("expected current_password_wrong, got %v", err)
	}

	fresh, err := f.svc.ChangePassword(ctx, old.User.ID, user.UpdatePasswordRequest{
		CurrentPassword: "secret123", Password: "newsecret1", PasswordConfirm: "newsecret1",
	})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, old.Token); codeOf(err) != "password_changed" {
		t.Fatalf("old token: expected password_changed, got %v", err)
	}
	if u, err := f.svc.Authenticate(ctx, fresh.Token); err != nil || u.ID != old.User.ID {
		t.Fatalf("fresh token rejected: %v", err)
	}
	if _, err := f.svc.Login(ctx, user.LoginRequest{Email: "sam@example.com", Password: "newsecret1"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestChangePassword_RejectsTokenFromEarlierInSameSecondWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.t = time.Date(2026, 5, 1, 12, 0, 0, 300_000_000, time.UTC)
	old := f.signup(t, "sam@example.com", "secret123")

	// passwordChangedAt lands at 12:00:00.5, after the old token's iat
	f.clock.t = time.Date(2026, 5, 1, 12, 0, 1, 500_000_000, time.UTC)
	fresh, err := f.svc.ChangePassword(ctx, old.User.ID, user.UpdatePasswordRequest{
		CurrentPassword: "secret123", Password: "newsecret1", PasswordConfirm: "newsecret1",
	})
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, old.Token); codeOf(err) != "password_changed" {
		t.Fatalf("old token: expected password_changed, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, fresh.Token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}

func TestNewPassword_ByteLimitIsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.signup(t, "sam@example.com", "secret123")

	// 40 runes, 80 bytes
	long := strings.Repeat("é", 40)

	_, err := f.svc.Signup(ctx, user.SignupRequest{
		Name: "Kim", Email: "kim@example.com", Password: long, PasswordConfirm: long,
	})
	if codeOf(err) != "password_too_long" {
		t.Fatalf("signup: expected password_too_long, got %v", err)
	}
	if _, err := f.store.GetByEmail(ctx, "kim@example.com", user.IncludeInactive); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("record created for rejected password: %v", err)
	}

	_, err = f.svc.ChangePassword(ctx, sess.User.ID, user.UpdatePasswordRequest{
		CurrentPassword: "secret123", Password: long, PasswordConfirm: long,
	})
	if codeOf(err) != "password_too_long" {
		t.Fatalf("change: expected password_too_long, got %v", err)
	}

	if err := f.svc.ForgotPassword(ctx, "sam@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := f.notifier.lastToken(t)

	_, err = f.svc.ResetPassword(ctx, token, user.ResetPasswordRequest{Password: long, PasswordConfirm: long})
	if codeOf(err) != "password_too_long" {
		t.Fatalf("reset: expected password_too_long, got %v", err)
	}

	// the rejected attempt must not have consumed the token
	if _, err := f.svc.ResetPassword(ctx, token, user.ResetPasswordRequest{Password: "newsecret1", PasswordConfirm: "newsecret1"}); err != nil {
		t.Fatalf("reset after rejected attempt: %v", err)
	}
}

func TestHasher_RejectsOverlongPassword(t *testing.T) {
	h := security.NewHasher(bcrypt.MinCost, 1)
	if _, err := h.Hash(context.Background(), strings.Repeat("é", 40)); !errors.Is(err, security.ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := hashFailed("x", security.ErrPasswordTooLong); codeOf(err) != "password_too_long" {
		t.Fatalf("hashFailed mapped to %v", err)
	}
}

func TestVerify_CancelledContextIsInternal(t *testing.T) {
	f := newFixture(t)
	sess := f.signup(t, "sam@example.com", "secret123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// correct credentials: a cancelled wait for a hashing slot is not a wrong password
	_, err := f.svc.Login(ctx, user.LoginRequest{Email: "sam@example.com", Password: "secret123"})
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("login: expected internal error, got %v", err)
	}

	_, err = f.svc.Login(ctx, user.LoginRequest{Email: "nobody@example.com", Password: "secret123"})
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("login unknown email: expected internal error, got %v", err)
	}

	_, err = f.svc.ChangePassword(ctx, sess.User.ID, user.UpdatePasswordRequest{
		CurrentPassword: "secret123", Password: "newsecret1", PasswordConfirm: "newsecret1",
	})
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("change password: expected internal error, got %v", err)
	}
}

func TestChangePassword_ConfirmMismatch(t *testing.T) {
	f := newFixture(t)
	sess := f.signup(t, "sam@example.com", "secret123")

	_, err := f.svc.ChangePassword(context.Background(), sess.User.ID, user.UpdatePasswordRequest{
		CurrentPassword: "secret123", Password: "newsecret1", PasswordConfirm: "newsecret2",
	})
	if codeOf(err) != "password_mismatch" {
		t.Fatalf("expected password_mismatch, got %v", err)
	}
}

func TestResetPassword_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "sam@example.com", "secret123")

	if err := f.svc.ForgotPassword(ctx, "sam@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := f.notifier.lastToken(t)

	req := user.ResetPasswordRequest{Password: "newsecret1", PasswordConfirm: "newsecret1"}
	sess, err := f.svc.ResetPassword(ctx, token, req)
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Token); err != nil {
		t.Fatalf("token from reset rejected: %v", err)
	}

	if _, err := f.svc.ResetPassword(ctx, token, req); codeOf(err) != "invalid_reset_token" {
		t.Fatalf("second consumption: expected invalid_reset_token, got %v", err)
	}
}

func TestResetPassword_UnknownTokenRejectedBeforeHashing(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "sam@example.com", "secret123")

	// a cancelled context would fail any hashing, so reaching bcrypt would surface as Internal
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := user.ResetPasswordRequest{Password: "newsecret1", PasswordConfirm: "newsecret1"}
	for _, token := range []string{"not-a-token", strings.Repeat("ab", 32)} {
		if _, err := f.svc.ResetPassword(ctx, token, req); codeOf(err) != "invalid_reset_token" {
			t.Fatalf("ResetPassword(%q): expected invalid_reset_token, got %v", token, err)
		}
	}
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "sam@example.com", "secret123")

	_ = f.svc.ForgotPassword(ctx, "sam@example.com")
	token := f.notifier.lastToken(t)

	f.clock.advance(10*time.Minute + time.Second)

	_, err := f.svc.ResetPassword(ctx, token, user.ResetPasswordRequest{Password: "newsecret1", PasswordConfirm: "newsecret1"})
	if codeOf(err) != "invalid_reset_token" {
		t.Fatalf("expired token: expected invalid_reset_token, got %v", err)
	}
}

func TestForgotPassword_LatestTokenWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "sam@example.com", "secret123")

	_ = f.svc.ForgotPassword(ctx, "sam@example.com")
	first := f.notifier.lastToken(t)
	_ = f.svc.ForgotPassword(ctx, "sam@example.com")
	second := f.notifier.lastToken(t)

	req := user.ResetPasswordRequest{Password: "newsecret1", PasswordConfirm: "newsecret1"}
	if _, err := f.svc.ResetPassword(ctx, first, req); codeOf(err) != "invalid_reset_token" {
		t.Fatalf("first token still valid: %v", err)
	}
	if _, err := f.svc.ResetPassword(ctx, second, req); err != nil {
		t.Fatalf("latest token rejected: %v", err)
	}
}

func TestForgotPassword_UnknownEmailIsUniform(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.ForgotPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("mail sent for unknown email")
	}
}

func TestForgotPassword_SendFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.signup(t, "sam@example.com", "secret123")

	f.notifier.err = errors.New("smtp down")

	err := f.svc.ForgotPassword(ctx, "sam@example.com")
	if apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}

	stored, _ := f.store.GetByID(ctx, sess.User.ID, user.ActiveOnly)
	if stored.PasswordResetTokenHash != nil || stored.PasswordResetExpiresAt != nil {
		t.Fatalf("reset token left behind after failed send")
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.signup(t, "sam@example.com", "secret123")

	if _, err := f.svc.Authenticate(ctx, ""); codeOf(err) != "not_logged_in" {
		t.Fatalf("empty token: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "not.a.jwt"); codeOf(err) != "invalid_session" {
		t.Fatalf("garbage token: %v", err)
	}

	f.clock.advance(2 * time.Hour)
	if _, err := f.svc.Authenticate(ctx, sess.Token); codeOf(err) != "invalid_session" {
		t.Fatalf("expired token: %v", err)
	}
	f.clock.advance(-2 * time.Hour)

	if err := f.svc.DeleteMe(ctx, sess.User.ID); err != nil {
		t.Fatalf("DeleteMe: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Token); codeOf(err) != "user_no_longer_exists" {
		t.Fatalf("deactivated user: %v", err)
	}
}

func TestUpdateMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.signup(t, "sam@example.com", "secret123")
	f.signup(t, "taken@example.com", "secret123")

	pw := "newsecret1"
	if _, err := f.svc.UpdateMe(ctx, sess.User.ID, user.UpdateMeRequest{Password: &pw}); codeOf(err) != "password_update_not_allowed" {
		t.Fatalf("password via updateMe: %v", err)
	}
	if _, err := f.svc.UpdateMe(ctx, sess.User.ID, user.UpdateMeRequest{}); codeOf(err) != "nothing_to_update" {
		t.Fatalf("empty update: %v", err)
	}

	taken := "taken@example.com"
	if _, err := f.svc.UpdateMe(ctx, sess.User.ID, user.UpdateMeRequest{Email: &taken}); apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("duplicate email: %v", err)
	}

	name := "Samantha"
	p, err := f.svc.UpdateMe(ctx, sess.User.ID, user.UpdateMeRequest{Name: &name})
	if err != nil || p.Name != "Samantha" {
		t.Fatalf("UpdateMe = %+v, %v", p, err)
	}
}

func TestAdminUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.signup(t, "sam@example.com", "secret123")

	pw := "hijack123"
	if _, err := f.svc.UpdateUser(ctx, sess.User.ID, user.AdminUpdateRequest{Password: &pw}); codeOf(err) != "password_update_not_allowed" {
		t.Fatalf("admin password change allowed: %v", err)
	}

	role := "lead-guide"
	p, err := f.svc.UpdateUser(ctx, sess.User.ID, user.AdminUpdateRequest{Role: &role})
	if err != nil || p.Role != user.RoleLeadGuide {
		t.Fatalf("UpdateUser = %+v, %v", p, err)
	}

	bad := "root"
	if _, err := f.svc.UpdateUser(ctx, sess.User.ID, user.AdminUpdateRequest{Role: &bad}); codeOf(err) != "invalid_role" {
		t.Fatalf("invalid role: %v", err)
	}

	if _, err := f.svc.UpdateUser(ctx, "missing", user.AdminUpdateRequest{Role: &role}); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("missing user: %v", err)
	}
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last Session
	for _, e := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		last = f.signup(t, e, "secret123")
		f.clock.advance(time.Second)
	}
	if err := f.svc.DeleteUser(ctx, last.User.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	res, err := f.svc.ListUsers(ctx, ListQuery{Page: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if res.Total != 2 || len(res.Users) != 1 || res.Users[0].Email != "a@example.com" {
		t.Fatalf("page 1 = %+v", res)
	}

	all, _ := f.svc.ListUsers(ctx, ListQuery{IncludeInactive: true})
	if all.Total != 3 || all.Limit != DefaultPageSize {
		t.Fatalf("include inactive = %+v", all)
	}

	if _, err := f.svc.GetUser(ctx, last.User.ID); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("deleted user visible: %v", err)
	}
}
