// README: Request logging middleware.
package middleware

import (
	"log"

	"github.com/gin-gonic/gin"
)

// Logging prints one line per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		log.Printf("%s %s", c.Request.Method, c.Request.URL.Path)
		c.Next()
	}
}
