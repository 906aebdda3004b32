package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klaroops/backend/internal/ratelimit"
)

func TestRateLimit_SixthApplicationRejected(t *testing.T) {
	clock := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	store := ratelimit.NewMemoryStore().WithClock(func() time.Time { return clock })
	original := nowFn
	nowFn = func() time.Time { return clock }
	defer func() { nowFn = original }()

	h := RateLimit(ratelimit.NewLimiter(store, nil), ratelimit.Applications, ByClientIP)(okHandler)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/public/applications", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 1; i <= 5; i++ {
		if rec := send(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request: expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "600" {
		t.Errorf("Retry-After = %q, want 600", got)
	}

	clock = clock.Add(10*time.Minute + time.Second)
	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("after window: expected 200, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4:5123"
	if got := ClientIP(req); got != "192.0.2.4" {
		t.Errorf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 198.51.100.2 ,10.1.1.1")
	if got := ClientIP(req); got != "198.51.100.2" {
		t.Errorf("forwarded: got %q", got)
	}
}
