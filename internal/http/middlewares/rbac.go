package middlewares

import (
	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/geocoder89/tourhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

var (
	errMissingIdentity = apperr.Unauthenticated("not_logged_in", "You are not logged in! Please log in to get access.")
	errForbidden       = apperr.Forbidden("forbidden", "You do not have permission to perform this action")
)

// RestrictTo lets the request through only if the authenticated user has one
// of roles. It must run after Protect.
func RestrictTo(roles ...user.Role) gin.HandlerFunc {
	allowed := make(map[user.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		u, ok := UserFromContext(c)
		if !ok {
			abortWithError(c, errMissingIdentity)
			return
		}

		if _, ok := allowed[u.Role]; !ok {
			abortWithError(c, errForbidden)
			return
		}
		c.Next()
	}
}
