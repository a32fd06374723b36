package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve_BurstThenDelay(t *testing.T) {
	l := New(Config{PerMinute: 600, Burst: 2})
	defer l.Stop()

	assert.Zero(t, l.Reserve("u1"))
	assert.Zero(t, l.Reserve("u1"))

	// 600/min is one token every 100ms; the third event is told to come back.
	delay := l.Reserve("u1")
	assert.Greater(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, 100*time.Millisecond)
}

func TestReserve_DelayDoesNotConsume(t *testing.T) {
	l := New(Config{PerMinute: 600, Burst: 1})
	defer l.Stop()

	require.Zero(t, l.Reserve("u1"))
	first := l.Reserve("u1")
	second := l.Reserve("u1")
	require.Greater(t, first, time.Duration(0))
	// A cancelled reservation leaves the next token for whoever asks first.
	assert.InDelta(t, float64(first), float64(second), float64(10*time.Millisecond))

	time.Sleep(first + 10*time.Millisecond)
	assert.Zero(t, l.Reserve("u1"))
}

func TestReserve_KeysAreIndependent(t *testing.T) {
	l := New(Config{PerMinute: 1, Burst: 1})
	defer l.Stop()

	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
	assert.Greater(t, l.Reserve("u1"), time.Duration(0))
	assert.Zero(t, l.Reserve("u2"))
	assert.Equal(t, 2, l.ActiveKeys())
}

func TestCleanupStaleEntries(t *testing.T) {
	l := New(Config{PerMinute: 10, IdleTTL: time.Millisecond})
	defer l.Stop()

	l.Allow("u1")
	time.Sleep(5 * time.Millisecond)
	l.cleanupStaleEntries()
	assert.Equal(t, 0, l.ActiveKeys())
}

func TestMiddleware(t *testing.T) {
	l := New(Config{PerMinute: 1, Burst: 1})
	defer l.Stop()

	h := l.Middleware(func(r *http.Request) string { return r.Header.Get("X-User-ID") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
