package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	t.Run("generates an ID when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		router.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())
	})

	t.Run("honors an incoming ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "fixed-id")
		router.ServeHTTP(w, req)

		assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(10), 5)

	t.Run("same IP shares a limiter", func(t *testing.T) {
		l1 := limiter.GetLimiter("192.0.2.1")
		l2 := limiter.GetLimiter("192.0.2.1")
		assert.Same(t, l1, l2)
	})

	t.Run("distinct IPs get distinct limiters", func(t *testing.T) {
		l1 := limiter.GetLimiter("192.0.2.1")
		l2 := limiter.GetLimiter("192.0.2.2")
		assert.NotSame(t, l1, l2)
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				l := limiter.GetLimiter([]string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}[i%3])
				assert.NotNil(t, l)
			}(i)
		}
		wg.Wait()
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	// 60/min = 1 token per second, burst of 3.
	router.Use(RateLimit(60, 3))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	blocked := 0
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			blocked++
			assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
		}
	}

	require.Greater(t, blocked, 0, "burst should be exhausted")
}
