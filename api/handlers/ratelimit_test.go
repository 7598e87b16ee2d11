package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/rewards/api/handlers"
)

func TestRewards_API_RateLimiter_Allow(t *testing.T) {
	t.Parallel()
	limiter := handlers.NewRateLimiter(rate.Limit(5), 5)
	t.Cleanup(limiter.Stop)

	ip := "192.168.1.1"

	// First 5 requests should be allowed (burst)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(ip), "request %d should be allowed", i+1)
	}

	assert.False(t, limiter.Allow(ip), "request 6 should be denied")

	// Different IP should have its own limit
	assert.True(t, limiter.Allow("192.168.1.2"), "different IP should be allowed")
}

func TestRewards_API_RateLimiter_Refill(t *testing.T) {
	t.Parallel()
	limiter := handlers.NewRateLimiter(rate.Limit(10), 2)
	t.Cleanup(limiter.Stop)

	ip := "192.168.1.1"

	assert.True(t, limiter.Allow(ip))
	assert.True(t, limiter.Allow(ip))
	assert.False(t, limiter.Allow(ip))

	// 100ms = 1 token at 10/sec
	time.Sleep(150 * time.Millisecond)

	assert.True(t, limiter.Allow(ip), "should be allowed after refill")
}

func TestRewards_API_RateLimitMiddleware_JSONResponse(t *testing.T) {
	t.Parallel()
	limiter := handlers.NewRateLimiter(rate.Limit(1), 1)
	t.Cleanup(limiter.Stop)

	handler := handlers.RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.RemoteAddr = "192.168.1.50:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var errResp handlers.RateLimitError
	err := json.NewDecoder(rec.Body).Decode(&errResp)
	assert.NoError(t, err)
	assert.Equal(t, "rate_limit_exceeded", errResp.Error)
	assert.NotEmpty(t, errResp.Message)
	assert.Greater(t, errResp.RetryAfter, 0)
}

func TestRewards_API_GetIPFromRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.1:4000", want: "10.0.0.1"},
		{name: "remote addr without port", remote: "10.0.0.1", want: "10.0.0.1"},
		{name: "forwarded for first hop", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.2"}, remote: "10.0.0.1:4000", want: "1.2.3.4"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "5.6.7.8"}, remote: "10.0.0.1:4000", want: "5.6.7.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, handlers.GetIPFromRequest(req))
		})
	}
}
