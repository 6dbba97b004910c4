package handlers

import (
	"log/slog"
	"net/http"

	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	if id := ctx.GetString(middlewares.CtxRequestID); id != "" {
		return id
	}
	return ctx.Writer.Header().Get("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnAuthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

// RespondAppError renders err through the apperr taxonomy. Internal errors are
// logged with their cause; the client only sees the generic message.
func RespondAppError(ctx *gin.Context, log *slog.Logger, err error) {
	e := apperr.As(err)

	if e.Kind == apperr.Internal {
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(ctx.Request.Context(), "request failed",
			"route", ctx.FullPath(),
			"code", e.Code,
			"err", e.Unwrap(),
		)
	}

	RespondError(ctx, e.Kind.Status(), e.Code, e.Message, nil)
}

func respondSuccess(ctx *gin.Context, status int, data gin.H) {
	ctx.JSON(status, gin.H{"status": "success", "data": data})
}
