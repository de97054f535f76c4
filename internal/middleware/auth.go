package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
)

const identityContextName = "identity"

// AuthMiddleware validates the bearer token and sets the identity in the
// Gin context.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(identityContextName, id)
		c.Next()
	}
}

// GetIdentityFromContext retrieves the identity from the Gin context
func GetIdentityFromContext(c *gin.Context) (models.Identity, bool) {
	val, ok := c.Get(identityContextName)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := val.(models.Identity)
	return id, ok
}

// RequireAuth is a helper that checks if the caller is authenticated,
// writing an error response if not
func RequireAuth(c *gin.Context) (models.Identity, bool) {
	id, ok := GetIdentityFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return models.Identity{}, false
	}
	return id, true
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
