package middlewares

import (
	"context"
	"strings"

	"github.com/geocoder89/tourhub/internal/actorctx"
	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (user.User, error)
}

type AuthMiddleware struct {
	auth       Authenticator
	cookieName string
}

func NewAuthMiddleware(auth Authenticator, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, cookieName: cookieName}
}

// Protect rejects the request unless it carries a valid bearer token, either
// in the Authorization header or in the session cookie, for a user that still
// exists and has not changed password since the token was issued.
func (m *AuthMiddleware) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.tokenFrom(c)

		u, err := m.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, apperr.As(err))
			return
		}

		c.Set(CtxUser, u)
		c.Request = c.Request.WithContext(actorctx.WithUser(c.Request.Context(), u))

		c.Next()
	}
}

func (m *AuthMiddleware) tokenFrom(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	if m.cookieName == "" {
		return ""
	}

	// logout leaves a placeholder value behind
	raw, err := c.Cookie(m.cookieName)
	if err != nil || raw == "" || raw == LoggedOutCookieValue {
		return ""
	}
	return raw
}

const LoggedOutCookieValue = "loggedout"

// Optional helpers so handlers don’t need to know the magic keys.

func UserFromContext(c *gin.Context) (user.User, bool) {
	v, ok := c.Get(CtxUser)
	if !ok {
		return user.User{}, false
	}
	u, ok := v.(user.User)
	return u, ok
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	u, ok := UserFromContext(c)
	if !ok || u.ID == "" {
		return "", false
	}
	return u.ID, true
}
