package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-vaults/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func setup(t *testing.T) (*auth.Service, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := auth.NewService("secret")
	s.RegisterAPICredentials("alice", "alice-secret", auth.PermissionOwner)
	s.RegisterAPICredentials("keeper-1", "keeper-secret", auth.PermissionKeeper)

	r := gin.New()
	whoami := func(c *gin.Context) { c.String(http.StatusOK, c.GetString("clientID")) }
	r.GET("/api/v1/dca", JWTAuth(s), whoami)
	keeper := r.Group("/api/v1/keeper")
	keeper.Use(KeeperAuth(s)...)
	keeper.GET("/dca/due", whoami)
	return s, r
}

func token(t *testing.T, s *auth.Service, key, secret string) string {
	t.Helper()
	tok, err := s.GenerateToken(auth.Credentials{APIKey: key, APISecret: secret})
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func get(r *gin.Engine, path, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	s, r := setup(t)

	w := get(r, "/api/v1/dca", token(t, s, "alice", "alice-secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/dca", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/dca", "Bearer garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/dca", "Token abc def").Code)
}

func TestKeeperAuth(t *testing.T) {
	s, r := setup(t)

	w := get(r, "/api/v1/keeper/dca/due", token(t, s, "keeper-1", "keeper-secret"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "keeper-1", w.Body.String())

	assert.Equal(t, http.StatusForbidden, get(r, "/api/v1/keeper/dca/due", token(t, s, "alice", "alice-secret")).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/keeper/dca/due", "").Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit())
	r.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/health", "").Code)
	}
}

func TestLimitFor(t *testing.T) {
	assert.Equal(t, authLimit, limitFor("/api/v1/auth/token"))
	assert.Equal(t, vaultLimit, limitFor("/api/v1/dca/:address/withdraw"))
	assert.Equal(t, vaultLimit, limitFor("/api/v1/intents"))
	assert.Equal(t, keeperLimit, limitFor("/api/v1/keeper/intents/open"))
	assert.Equal(t, rate.Inf, limitFor("/health"))
}
