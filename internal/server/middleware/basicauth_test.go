// file: internal/server/middleware/basicauth_test.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8b9c-0d1e-2f3a4b5c6d7e

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupBasicAuthRouter(t *testing.T, user, password string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash := ""
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		hash = string(b)
	}

	r := gin.New()
	r.Use(BasicAuth(user, hash))
	r.GET("/api/v1/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/v1/items", func(c *gin.Context) { c.String(http.StatusOK, "items") })
	return r
}

func serve(r *gin.Engine, path string, creds ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(creds) == 2 {
		req.SetBasicAuth(creds[0], creds[1])
	}
	r.ServeHTTP(w, req)
	return w
}

func TestBasicAuth_Disabled(t *testing.T) {
	r := setupBasicAuthRouter(t, "", "")
	assert.Equal(t, http.StatusOK, serve(r, "/api/v1/items").Code)
}

func TestBasicAuth_NoCredentials(t *testing.T) {
	r := setupBasicAuthRouter(t, "admin", "secret")
	w := serve(r, "/api/v1/items")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestBasicAuth_Credentials(t *testing.T) {
	r := setupBasicAuthRouter(t, "admin", "secret")

	assert.Equal(t, http.StatusOK, serve(r, "/api/v1/items", "admin", "secret").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/api/v1/items", "admin", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/api/v1/items", "root", "secret").Code)
}

func TestBasicAuth_HealthExempt(t *testing.T) {
	r := setupBasicAuthRouter(t, "admin", "secret")
	assert.Equal(t, http.StatusOK, serve(r, "/api/v1/health").Code)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}
