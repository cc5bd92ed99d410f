package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"refreshd/pkg/auth"
)

const (
	// AuthHeaderKey is the standard Authorization header
	AuthHeaderKey = "Authorization"
	// ContextCallerKey is the key used to store the authenticated caller
	ContextCallerKey = "caller"
	// ContextRequestIDKey is the key used to store request ID
	ContextRequestIDKey = "request_id"
)

// AuthConfig holds webhook authentication configuration
type AuthConfig struct {
	Secret string
	Tokens *auth.TokenService // optional bearer token support
}

// WebhookAuthMiddleware admits requests carrying the shared secret in
// X-Webhook-Secret or a valid bearer token signed with it. Anything else is
// rejected with 401 before any handler runs.
func WebhookAuthMiddleware(config AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if presented := c.GetHeader(auth.SecretHeader); presented != "" {
			if auth.MatchSecret(presented, config.Secret) {
				c.Set(ContextCallerKey, "secret")
				c.Next()
				return
			}
			unauthorized(c)
			return
		}

		if subject, ok := tryBearerAuth(c, config.Tokens); ok {
			c.Set(ContextCallerKey, "token:"+subject)
			c.Next()
			return
		}

		unauthorized(c)
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// tryBearerAuth attempts to authenticate via a bearer trigger token
func tryBearerAuth(c *gin.Context, tokens *auth.TokenService) (string, bool) {
	if tokens == nil {
		return "", false
	}

	authHeader := c.GetHeader(AuthHeaderKey)
	if authHeader == "" {
		return "", false
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}

	subject, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", false
	}
	return subject, true
}

// Caller returns how the request authenticated, or "" if it did not.
func Caller(c *gin.Context) string {
	return c.GetString(ContextCallerKey)
}
