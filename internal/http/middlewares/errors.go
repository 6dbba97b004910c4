package middlewares

import (
	"github.com/geocoder89/tourhub/internal/apperr"
	"github.com/gin-gonic/gin"
)

// abortWithError writes the same error envelope as the handlers package.
func abortWithError(c *gin.Context, e *apperr.Error) {
	abortWithStatus(c, e.Kind.Status(), e.Code, e.Message)
}

func abortWithStatus(c *gin.Context, status int, code, message string) {
	reqID, _ := c.Get(CtxRequestID)
	id, _ := reqID.(string)

	body := gin.H{
		"code":    code,
		"message": message,
	}
	if id != "" {
		body["requestId"] = id
	}

	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
