package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// corsMiddleware answers preflights for any well-formed origin. Which origin
// may do what is decided by the guards below and by the authorization store.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return normalizeOrigin(origin) != ""
		},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", SessionHeader},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        corsMaxAge,
	})
}

// loopbackOnly rejects remote peers and DNS-rebound Host headers.
func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopbackRequest(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{JSONKeyError: HTTPErrorForbiddenText})
			return
		}
		if !isSafeLocalHost(c.Request.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{JSONKeyError: HTTPErrorForbiddenHost})
			return
		}
		c.Next()
	}
}

// uiOrigins admits browser requests only from the configured UI origins.
// Requests without an Origin header come from non-browser clients.
func (s *Server) uiOrigins() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Origin")
		if raw == "" {
			c.Next()
			return
		}
		if _, ok := s.uiAllowedOrigins[normalizeOrigin(raw)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{JSONKeyError: HTTPErrorForbiddenOrigin})
			return
		}
		c.Next()
	}
}

func (s *Server) sessionGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(SessionHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.sessionToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{JSONKeyError: HTTPErrorUnauthorizedText})
			return
		}
		c.Next()
	}
}
