package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func send(h http.Handler, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/campaigns/simulate", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BurstThen429(t *testing.T) {
	h := RateLimit(0.001, 3, discardLogger())(http.HandlerFunc(okHandler))

	for i := range 3 {
		assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:5000").Code, "request %d", i+1)
	}

	rec := send(h, "10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeErrorCode(t, rec))
}

func TestRateLimit_PerClient(t *testing.T) {
	h := RateLimit(0.001, 1, discardLogger())(http.HandlerFunc(okHandler))

	assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:5000").Code)
}

func TestRateLimit_IgnoresForwardedFor(t *testing.T) {
	h := RateLimit(0.001, 1, discardLogger())(http.HandlerFunc(okHandler))

	assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:5000", "X-Forwarded-For", "1.1.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "10.0.0.1:5000", "X-Forwarded-For", "2.2.2.2").Code)
}

func TestVisitorStore_SweepsStaleClients(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newVisitorStore(1, 1, time.Minute)
	store.now = func() time.Time { return now }
	store.lastSweep = now

	store.limiter("10.0.0.1")
	store.limiter("10.0.0.2")
	assert.Equal(t, 2, store.len())

	now = now.Add(30 * time.Second)
	store.limiter("10.0.0.2")

	now = now.Add(45 * time.Second)
	store.limiter("10.0.0.3")

	assert.Equal(t, 2, store.len(), "10.0.0.1 was idle past the TTL")
}
