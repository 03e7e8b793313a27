package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/botscore"
	"github.com/gatewarden/gatewarden/internal/ratelimit"
	"github.com/gatewarden/gatewarden/internal/reqctx"
)

func TestRequestID_StampsHeader(t *testing.T) {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequestID(Config{})(final)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id header to be set")
	}
}

func TestRequestID_StealthModeOmitsHeader(t *testing.T) {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequestID(Config{StealthMode: true})(final)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Request-Id") != "" {
		t.Fatal("expected X-Request-Id header to be omitted in stealth mode")
	}
}

func TestClientKey_VisibleToLaterStages(t *testing.T) {
	dir := t.TempDir()
	coord := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Tracker:  ratelimit.Config{Window: time.Minute, MaxRequests: 100},
		ListFile: dir + "/lists.yaml",
	})
	defer coord.Close()

	var gotKey string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = reqctx.ClientKey(r.Context())
	})
	h := ClientKey(Config{RateLimit: coord})(final)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotKey != "203.0.113.9" {
		t.Fatalf("client key = %q, want 203.0.113.9", gotKey)
	}
}

func TestRateLimit_BlocksDeniedKey(t *testing.T) {
	dir := t.TempDir()
	coord := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Tracker:  ratelimit.Config{Window: time.Minute, MaxRequests: 100},
		ListFile: dir + "/lists.yaml",
	})
	defer coord.Close()
	coord.AddToDenylist("203.0.113.9")

	called := false
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := RateLimit(Config{RateLimit: coord})(final)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("expected denylisted request to short-circuit")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestBotScore_BlocksHighScoringRequest(t *testing.T) {
	scorer := botscore.New(70)
	defer scorer.Close()

	called := false
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := BotScore(Config{BotScoreEnabled: true, BotScore: scorer})(final)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "sqlmap/1.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("expected bot request to short-circuit")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
