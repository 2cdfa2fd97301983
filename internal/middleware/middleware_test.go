package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/pkg/jwt"
	redisc "github.com/newsdigest/core/internal/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	id, _ := CurrentUserID(c)
	c.JSON(http.StatusOK, gin.H{"id": id, "auth": IsAuthenticated(c)})
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	signer := jwt.NewSigner("secret", "newsdigest")
	r := gin.New()
	r.GET("/private", Auth(signer), whoami)
	r.GET("/public", OptionalAuth(signer), whoami)

	token, err := signer.Sign(42, "editor", time.Hour)
	require.NoError(t, err)
	forged, err := jwt.NewSigner("other", "newsdigest").Sign(42, "editor", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/private", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/private", forged).Code)

	w := do(r, http.MethodGet, "/private", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":42,"auth":true}`, w.Body.String())

	w = do(r, http.MethodGet, "/public", forged)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":0,"auth":false}`, w.Body.String())
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "abc", NormalizeToken("  Bearer abc "))
	assert.Equal(t, "abc", NormalizeToken("bearer abc"))
	assert.Equal(t, "abc", NormalizeToken("abc"))
	assert.Empty(t, NormalizeToken("   "))
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisc.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	r := gin.New()
	r.POST("/subscribe", RateLimit(rc, "subscribe", 2, time.Minute, zap.NewNop()), whoami)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/subscribe", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/subscribe", "").Code)
	w := do(r, http.MethodPost, "/subscribe", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/subscribe", "").Code)
}

func TestRateLimitWithoutRedis(t *testing.T) {
	r := gin.New()
	r.POST("/subscribe", RateLimit(nil, "subscribe", 1, time.Minute, zap.NewNop()), whoami)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/subscribe", "").Code)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	assert.Equal(t, http.StatusTeapot, do(r, http.MethodGet, "/x", "").Code)
}
