package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"certguide/internal/pkg/jwtutil"
	"certguide/internal/transport/http/response"
)

const (
	ContextUserIDKey = "user_id"
	ContextEmailKey  = "email"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Abort(c, 401, response.CodeUnauthorized, "missing authorization header")
			return
		}

		const prefix = "Bearer "
		if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
			response.Abort(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			return
		}

		token := strings.TrimSpace(authHeader[len(prefix):])
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Abort(c, 401, response.CodeUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextEmailKey, claims.Email)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthJWT.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}
