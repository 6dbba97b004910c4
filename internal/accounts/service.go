// Package accounts implements the credential flows (signup, login, password
// change and reset), request authentication and the profile operations that
// sit on top of the user store.
package accounts

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/auth"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/notifications"
	"github.com/geocoder89/tourhub/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// UserStore is the credential store contract. Every read takes an explicit
// scope; writes only ever touch active users.
type UserStore interface {
	GetByEmail(ctx context.Context, email string, scope user.Scope) (user.User, error)
	GetByID(ctx context.Context, id string, scope user.Scope) (user.User, error)
	Create(ctx context.Context, u user.User) (user.User, error)
	UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) (user.User, error)
	SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearPasswordReset(ctx context.Context, id, tokenHash string) error
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (user.User, error)
	ResetPassword(ctx context.Context, tokenHash, newHash string, changedAt, now time.Time) (user.User, error)
	UpdateProfile(ctx context.Context, id string, patch user.ProfilePatch) (user.User, error)
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, scope user.Scope, limit, offset int) ([]user.User, int, error)
}

type Metrics interface {
	AuthEvent(op, result string)
	ObserveHash(op string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) AuthEvent(string, string)          {}
func (nopMetrics) ObserveHash(string, time.Duration) {}

type Options struct {
	// ResetURLBase is the public URL the plaintext reset token is appended to.
	ResetURLBase string
	Logger       *slog.Logger
	Metrics      Metrics
}

// Session is what a successful credential flow hands back to the client.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      user.Profile
}

type Service struct {
	store    UserStore
	hasher   *security.Hasher
	tokens   *auth.Manager
	resets   *auth.ResetTokens
	notifier notifications.Notifier

	resetURLBase string
	log          *slog.Logger
	metrics      Metrics
	tracer       trace.Tracer
	now          func() time.Time
}

func NewService(
	store UserStore,
	hasher *security.Hasher,
	tokens *auth.Manager,
	resets *auth.ResetTokens,
	notifier notifications.Notifier,
	opts Options,
) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	return &Service{
		store:        store,
		hasher:       hasher,
		tokens:       tokens,
		resets:       resets,
		notifier:     notifier,
		resetURLBase: opts.ResetURLBase,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer("github.com/geocoder89/tourhub/internal/accounts"),
		now:          time.Now,
	}
}

// WithClock replaces the time source of the service and of the token
// managers it drives, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.tokens.WithClock(now)
	s.resets.WithClock(now)
	return s
}

func (s *Service) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "accounts."+op)
}

// finish records the outcome of op on the span and in metrics.
func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()

	if err == nil {
		s.metrics.AuthEvent(op, "ok")
		return
	}

	kind := apperr.KindOf(err)
	s.metrics.AuthEvent(op, kind.String())
	span.SetAttributes(attribute.String("error.kind", kind.String()))
	if kind == apperr.Internal {
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *Service) hash(ctx context.Context, plain string) (string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("hash", time.Since(start)) }()

	return s.hasher.Hash(ctx, plain)
}

func (s *Service) verify(ctx context.Context, hash, plain string) (bool, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("verify", time.Since(start)) }()

	return s.hasher.Verify(ctx, hash, plain)
}

func (s *Service) verifyDummy(ctx context.Context, plain string) error {
	start := time.Now()
	defer func() { s.metrics.ObserveHash("verify", time.Since(start)) }()

	return s.hasher.VerifyDummy(ctx, plain)
}

// passwordChangedAt is backdated one second so a token issued right after the
// change is never older than it.
func (s *Service) passwordChangedAt() time.Time {
	return s.now().UTC().Add(-time.Second)
}

func (s *Service) session(u user.User) (Session, error) {
	token, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, apperr.InternalErr("Could not issue token", err)
	}

	return Session{Token: token, ExpiresAt: exp, User: u.Public()}, nil
}

func storeErr(err error) error {
	return apperr.InternalErr("Something went wrong", err)
}
