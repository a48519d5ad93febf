package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("Sixth request in the same minute should be denied")
	}
}

func TestClientsHaveSeparateBuckets(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	if !rl.allow("10.0.0.1") {
		t.Fatal("First client should be allowed")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("Second client must not share the first client's bucket")
	}
	if rl.allow("10.0.0.1") {
		t.Error("First client's budget is spent")
	}
}

func TestInvalidLimitFallsBack(t *testing.T) {
	rl := NewRateLimiter(0)
	defer rl.Stop()
	if rl.requestsPerMin != 60 {
		t.Errorf("Expected fallback to 60, got %d", rl.requestsPerMin)
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:54321"
	if got := clientKey(r); got != "192.168.1.5" {
		t.Errorf("Expected bare IP, got %q", got)
	}

	r.RemoteAddr = "no-port"
	if got := clientKey(r); got != "no-port" {
		t.Errorf("Unparseable address falls through unchanged, got %q", got)
	}
}

func TestMiddlewareReturns429WhenExhausted(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/insights", nil)
	req.RemoteAddr = "10.0.0.9:1234"

	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("First request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: expected 429, got %d", rec.Code)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(10)
	rl.Stop()
	rl.Stop()
}
