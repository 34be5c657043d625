package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/auth"
)

const sessionTokenContextKey = "sessionToken"

// MaxBodyBytes bounds every JSON request body.
const MaxBodyBytes = 1 << 20

type tokenEnvelope struct {
	SessionToken string `json:"sessionToken"`
}

// SessionTokenFromContext returns the token accepted by RequireSession.
func SessionTokenFromContext(c *gin.Context) (string, bool) {
	token, ok := c.Get(sessionTokenContextKey)
	if !ok {
		return "", false
	}
	value, ok := token.(string)
	return value, ok && value != ""
}

// RequireSession accepts a session token from the Authorization header or
// the sessionToken field of a JSON body and rejects the request unless it
// verifies. The body is cached so handlers can bind it again with
// ShouldBindBodyWith.
func RequireSession(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			var env tokenEnvelope
			if err := c.ShouldBindBodyWith(&env, binding.JSON); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
					return
				}
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
				return
			}
			token = env.SessionToken
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No session token"})
			return
		}
		if _, ok := v.Verify(token); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.PublicMessage(apperr.ErrUnauthorized)})
			return
		}

		c.Set(sessionTokenContextKey, token)
		c.Next()
	}
}

// LimitBody caps the request body size.
func LimitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
