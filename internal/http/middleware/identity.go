// README: Caller identity from the X-User-ID header.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yoonu/internal/types"
)

const userIDKey = "user_id"

// Identity requires an X-User-ID header and stashes it in the context.
// The gateway in front of this service authenticates and sets the header.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-User-ID")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID"})
			return
		}
		c.Set(userIDKey, types.ID(id))
		c.Next()
	}
}

// UserID returns the authenticated caller.
func UserID(c *gin.Context) types.ID {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(types.ID); ok {
			return id
		}
	}
	return ""
}
