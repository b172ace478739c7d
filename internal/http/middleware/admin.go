package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdminKey guards mutating routes with a shared operator key. With
// no key configured the guarded routes answer 503 rather than standing
// open. The key rides in X-Admin-API-Key, or as a bearer token.
func RequireAdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin API not configured"})
			c.Abort()
			return
		}

		presented := c.GetHeader("X-Admin-API-Key")
		if presented == "" {
			presented = c.GetHeader("Authorization")
			if len(presented) > 7 && presented[:7] == "Bearer " {
				presented = presented[7:]
			}
		}

		if presented != key {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
