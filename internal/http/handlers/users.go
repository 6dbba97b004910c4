package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/geocoder89/tourhub/internal/accounts"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/geocoder89/tourhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type UserService interface {
	GetMe(ctx context.Context, userID string) (user.Profile, error)
	UpdateMe(ctx context.Context, userID string, req user.UpdateMeRequest) (user.Profile, error)
	DeleteMe(ctx context.Context, userID string) error
	ListUsers(ctx context.Context, q accounts.ListQuery) (accounts.ListResult, error)
	GetUser(ctx context.Context, id string) (user.Profile, error)
	UpdateUser(ctx context.Context, id string, req user.AdminUpdateRequest) (user.Profile, error)
	DeleteUser(ctx context.Context, id string) error
}

type UsersHandler struct {
	svc UserService
	log *slog.Logger
}

func NewUsersHandler(svc UserService, log *slog.Logger) *UsersHandler {
	if log == nil {
		log = slog.Default()
	}
	return &UsersHandler{svc: svc, log: log}
}

func (h *UsersHandler) currentUserID(ctx *gin.Context) (string, bool) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "not_logged_in", "You are not logged in! Please log in to get access.")
	}
	return id, ok
}

// userIDParam rejects ids that cannot be a stored user id before they reach
// the store, where a uuid column would fail the cast.
func userIDParam(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		RespondError(ctx, http.StatusBadRequest, "invalid_id", "user id must be a valid UUID", nil)
		return "", false
	}
	return id, true
}

func (h *UsersHandler) GetMe(ctx *gin.Context) {
	id, ok := h.currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	p, err := h.svc.GetMe(cctx, id)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	respondSuccess(ctx, http.StatusOK, gin.H{"user": p})
}

func (h *UsersHandler) UpdateMe(ctx *gin.Context) {
	var req user.UpdateMeRequest

	if !BindJSON(ctx, &req) {
		return
	}

	id, ok := h.currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	p, err := h.svc.UpdateMe(cctx, id, req)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	respondSuccess(ctx, http.StatusOK, gin.H{"user": p})
}

func (h *UsersHandler) DeleteMe(ctx *gin.Context) {
	id, ok := h.currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.DeleteMe(cctx, id); err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// ListUsers accepts ?page=&limit=&includeInactive=true.
func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	q := accounts.ListQuery{}

	if v := ctx.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			RespondBadRequest(ctx, "Invalid query parameters", gin.H{"page": "must be a positive integer"})
			return
		}
		q.Page = n
	}
	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > accounts.MaxPageSize {
			RespondBadRequest(ctx, "Invalid query parameters", gin.H{"limit": "must be between 1 and " + strconv.Itoa(accounts.MaxPageSize)})
			return
		}
		q.Limit = n
	}
	q.IncludeInactive = ctx.Query("includeInactive") == "true"

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	res, err := h.svc.ListUsers(cctx, q)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"results": len(res.Users),
		"total":   res.Total,
		"page":    res.Page,
		"limit":   res.Limit,
		"data":    gin.H{"users": res.Users},
	})
}

// CreateUser exists so the admin collection answers POST; accounts are only
// created through /signup.
func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	RespondError(ctx, http.StatusInternalServerError, "not_implemented",
		"This route is not defined! Please use /signup instead", nil)
}

func (h *UsersHandler) GetUser(ctx *gin.Context) {
	id, ok := userIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	p, err := h.svc.GetUser(cctx, id)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	respondSuccess(ctx, http.StatusOK, gin.H{"user": p})
}

func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	id, ok := userIDParam(ctx)
	if !ok {
		return
	}

	var req user.AdminUpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	p, err := h.svc.UpdateUser(cctx, id, req)
	if err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	respondSuccess(ctx, http.StatusOK, gin.H{"user": p})
}

func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id, ok := userIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.svc.DeleteUser(cctx, id); err != nil {
		RespondAppError(ctx, h.log, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}
