// README: Shared-secret auth for provider callback routes.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const hookSecretHeader = "X-Hook-Secret"

// HookAuth admits only callers presenting the configured shared secret. With
// no secret configured every request is refused, so hook routes are closed by
// default.
func HookAuth(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(hookSecretHeader))
		if secret == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid hook secret"})
			return
		}
		c.Next()
	}
}
