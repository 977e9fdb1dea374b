package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/artemuse/gallery-backend/internal/logger"
	"github.com/artemuse/gallery-backend/internal/requestdata"
	"github.com/artemuse/gallery-backend/internal/services"
)

type AuthMiddleware struct {
	log             *logger.Logger
	sessionResolver services.SessionResolver
}

func NewAuthMiddleware(log *logger.Logger, sessionResolver services.SessionResolver) *AuthMiddleware {
	middlewareLog := log.With("middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLog, sessionResolver: sessionResolver}
}

// RequireAuth gates every user-state route. A request without a resolvable
// identity is rejected before any handler runs, so unauthorized calls can
// have no side effect.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing or invalid session token"})
			return
		}
		ctx, err := am.sessionResolver.SetContextFromToken(c.Request.Context(), tokenString)
		if err != nil {
			am.log.Debug("Session resolution failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": err.Error()})
			return
		}
		rd := requestdata.GetRequestData(ctx)
		if rd == nil || rd.UserID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return c.Query("token")
}
