package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	router := gin.New()
	router.POST("/verify", RateLimit(NewMemoryRateStore(), 3, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitBlocksOverLimit(t *testing.T) {
	router := gin.New()
	router.POST("/verify", RateLimit(NewMemoryRateStore(), 2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		router.ServeHTTP(last, req)
	}

	require.Equal(t, http.StatusTooManyRequests, last.Code)
	require.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitDisabledWithoutStore(t *testing.T) {
	router := gin.New()
	router.POST("/verify", RateLimit(nil, 1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMemoryRateStoreWindowReset(t *testing.T) {
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: func() time.Time { return current },
	}

	count, _, err := store.Increment(nil, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, _, err = store.Increment(nil, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	current = current.Add(2 * time.Minute)

	count, _, err = store.Increment(nil, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "counter must reset after the window")
}
