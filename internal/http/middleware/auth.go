package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const accessTokenKey = "accessToken"

// BearerToken requires an Authorization header and stashes the raw token for
// handlers that forward it to the authorization server.
func BearerToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	c.Set(accessTokenKey, strings.TrimSpace(parts[1]))
	c.Next()
}

// GetAccessToken returns the bearer token extracted by BearerToken.
func GetAccessToken(c *gin.Context) (string, bool) {
	value, ok := c.Get(accessTokenKey)
	if !ok {
		return "", false
	}
	token, ok := value.(string)
	return token, ok && token != ""
}
