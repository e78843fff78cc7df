// file: internal/server/middleware/basicauth.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7a8b-9c0d-1e2f3a4b5c6d

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const realm = `Basic realm="paced-downloader"`

// BasicAuth enforces HTTP Basic Authentication against a bcrypt password
// hash. An empty user disables the check. Health endpoints are exempt.
func BasicAuth(user, passwordHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user == "" {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		if path == "/api/health" || path == "/api/v1/health" {
			c.Next()
			return
		}

		gotUser, gotPass, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", realm)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1
		passErr := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(gotPass))
		if !userMatch || passErr != nil {
			c.Header("WWW-Authenticate", realm)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Next()
	}
}

// HashPassword returns the bcrypt hash stored in auth_password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
