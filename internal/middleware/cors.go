package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS allows browser players on the listed origins. An empty list allows
// any origin. Range and the headers a player needs to seek are exposed.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originMap[strings.TrimSpace(origin)] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := c.Request.Header.Get("Origin"); origin != "" {
			_, listed := originMap[origin]
			if allowAll || listed {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Add("Vary", "Origin")
		}

		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Range, X-Request-Id")
		h.Set("Access-Control-Expose-Headers", "Accept-Ranges, Content-Length, Content-Range, X-Request-Id")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
