package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/tourhub/internal/accounts"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

const requestTimeout = 5 * time.Second

type CredentialService interface {
	Signup(ctx context.Context, req user.SignupRequest) (accounts.Session, error)
	Login(ctx context.Context, req user.LoginRequest) (accounts.Session, error)
	ChangePassword(ctx context.Context, userID string, req user.UpdatePasswordRequest) (accounts.Session, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, plainToken string, req user.ResetPasswordRequest) (accounts.Session, error)
}

type CookieConfig struct {
	Name   string
	Secure bool
}

type AuthHandler struct {
	svc    CredentialService
	cookie CookieConfig
	log    *slog.Logger
}

func NewAuthHandler(svc CredentialService, cookie CookieConfig, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{svc: svc, cookie: cookie, log: log}
}

func (h *AuthHandler) Signup(ctx *gin.Context) {
	var req user.SignupRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	sess, err := h.svc.Signup(cctx, req)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	h.sendSession(ctx, http.StatusCreated, sess)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	sess, err := h.svc.Login(cctx, req)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	h.sendSession(ctx, http.StatusOK, sess)
}

// Logout overwrites the session cookie with a short-lived placeholder. Bearer
// tokens held by the client stay valid until they expire.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(h.cookie.Name, middlewares.LoggedOutCookieValue, 10, "/", "", h.cookie.Secure, true)

	ctx.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req user.ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.ForgotPassword(cctx, req.Email); err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "If that email belongs to an account, a reset link has been sent.",
	})
}

func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req user.ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	sess, err := h.svc.ResetPassword(cctx, ctx.Param("token"), req)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	h.sendSession(ctx, http.StatusOK, sess)
}

func (h *AuthHandler) UpdatePassword(ctx *gin.Context) {
	var req user.UpdatePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "not_logged_in", "You are not logged in! Please log in to get access.")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	sess, err := h.svc.ChangePassword(cctx, userID, req)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	h.sendSession(ctx, http.StatusOK, sess)
}

// sendSession sets the HttpOnly session cookie and returns the token with the
// sanitized profile.
func (h *AuthHandler) sendSession(ctx *gin.Context, status int, sess accounts.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(
		h.cookie.Name,
		sess.Token,
		maxAge,
		"/",
		"",
		h.cookie.Secure,
		true, // HttpOnly.
	)

	ctx.JSON(status, gin.H{
		"status": "success",
		"token":  sess.Token,
		"data":   gin.H{"user": sess.User},
	})
}
