package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, perSecond float64, burst int) *Limiter {
	t.Helper()
	l := New(perSecond, burst, slog.Default())
	t.Cleanup(l.Close)
	return l
}

func TestAllowWithinBurst(t *testing.T) {
	l := newLimiter(t, 1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
}

func TestPerIPIsolation(t *testing.T) {
	l := newLimiter(t, 1, 1)

	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "a saturated bucket must not affect other clients")
}

func TestMiddlewareRejectsWithEnvelope(t *testing.T) {
	l := newLimiter(t, 1, 1)

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/gas/prediction", nil)
	req.RemoteAddr = "10.0.0.9:4000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Success   bool   `json:"success"`
		ErrorCode string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, CodeRateLimited, body.ErrorCode)
}

func TestPruneEvictsIdleVisitors(t *testing.T) {
	l := newLimiter(t, 1, 1)

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")

	l.prune(time.Now().Add(time.Second))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.visitors)
}

func TestBucketRefills(t *testing.T) {
	l := newLimiter(t, 100, 1)

	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"))

	time.Sleep(15 * time.Millisecond)
	assert.True(t, l.Allow("10.0.0.1"), "token should refill at 100/s")
}
