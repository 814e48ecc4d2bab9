package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(rate int, whitelist ...string) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(rate, time.Minute, whitelist, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, now := newTestLimiter(2)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "limits are per IP")

	*now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "window reset refills tokens")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter(0)
	for range 100 {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl, now := newTestLimiter(5)
	rl.Allow("10.0.0.1")
	assert.Equal(t, 1, rl.Stats().TrackedIPs)

	*now = now.Add(3 * time.Minute)
	rl.evictIdle()
	assert.Zero(t, rl.Stats().TrackedIPs)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(1, "127.0.0.1")
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/buses", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1:5000", "").Code)
	rec := do("192.0.2.1:5001", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"Too many requests"}`, rec.Body.String())
	assert.EqualValues(t, 1, rl.Stats().Blocked)

	// forwarded client gets its own bucket
	assert.Equal(t, http.StatusNoContent, do("192.0.2.1:5002", "203.0.113.7, 10.0.0.1").Code)

	for range 3 {
		assert.Equal(t, http.StatusNoContent, do("127.0.0.1:9000", "").Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "remote without port", remote: "192.0.2.1", want: "192.0.2.1"},
		{name: "forwarded chain", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, want: "203.0.113.7"},
		{name: "forwarded with port", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.7:443"}, want: "203.0.113.7"},
		{name: "real ip", remote: "10.0.0.1:1", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, want: "198.51.100.2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}
