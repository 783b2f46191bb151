package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/botdesk/pkg/auth"
	"github.com/quocanhngo/botdesk/pkg/metrics"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
	ContextToken  = "token"
)

// TokenVerifier checks revocation, signature and expiry of a bearer token
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware validates JWT tokens and injects user claims into context
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			metrics.ObserveTokenRejection("missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
			metrics.ObserveTokenRejection("format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format. Use: Bearer <token>"})
			return
		}
		tokenString := strings.TrimSpace(parts[1])

		claims, err := tokens.Verify(c.Request.Context(), tokenString)
		if err != nil {
			reason := rejectionReason(err)
			metrics.ObserveTokenRejection(reason)
			msg := "Invalid or expired token"
			if reason == "revoked" {
				msg = "Token has been revoked"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		// Store user info in context for downstream handlers
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextToken, tokenString)

		c.Next()
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	default:
		return "malformed"
	}
}
