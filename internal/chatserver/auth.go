package chatserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const ctxUserKey = "chatserver.user"

// userForToken resolves an API token to its user.
func userForToken(db *gorm.DB, token string) (User, error) {
	if token == "" {
		return User{}, fmt.Errorf("chatserver: token is required")
	}
	var user User
	if err := db.Where("api_token = ?", token).First(&user).Error; err != nil {
		return User{}, fmt.Errorf("chatserver: token lookup: %w", err)
	}
	return user, nil
}

// authRequired is the bearer-token middleware for the REST endpoints.
func authRequired(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		user, err := userForToken(db, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// currentUser returns the authenticated user set by authRequired.
func currentUser(c *gin.Context) User {
	return c.MustGet(ctxUserKey).(User)
}
