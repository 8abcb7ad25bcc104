package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestLimiterStore_AllowAndBlock(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	key := "10.0.0.1"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	// a different key has its own budget
	if !s.Allow("10.0.0.2") {
		t.Fatalf("expected independent key to be allowed")
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)
	defer s.Stop()

	e := echo.New()
	handler := RateLimit(s)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	call := func() (int, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		err := handler(c)
		return rec.Code, err
	}

	if code, err := call(); err != nil || code != http.StatusOK {
		t.Fatalf("first request should pass, got code=%d err=%v", code, err)
	}

	_, err := call()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be rate limited, got %v", err)
	}
}
