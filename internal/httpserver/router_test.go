package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/admin"
	"github.com/gatewarden/gatewarden/internal/forwarder"
	"github.com/gatewarden/gatewarden/internal/httpserver"
	"github.com/gatewarden/gatewarden/internal/pipeline"
	"github.com/gatewarden/gatewarden/internal/ratelimit"
)

func newTestRouter(t *testing.T, backendURL string) (http.Handler, *ratelimit.Coordinator, *forwarder.Forwarder) {
	t.Helper()

	rl := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Tracker: ratelimit.Config{
			Window:          time.Minute,
			MaxRequests:     100,
			BlockDuration:   time.Minute,
			CleanupInterval: time.Minute,
		},
		TrustProxy: true,
	})
	t.Cleanup(rl.Close)

	fwd := forwarder.New(forwarder.Config{ProxyID: "test-gatewarden"})
	if backendURL != "" {
		fwd.UpdateTargets([]forwarder.Target{{Name: "backend", URL: backendURL}})
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Pipeline: pipeline.Config{
			RateLimit:        rl,
			AccessLogEnabled: false,
		},
		Forwarder: fwd,
		Admin: admin.Deps{
			RateLimit: rl,
			Forwarder: fwd,
			StartedAt: time.Now(),
			Version:   "test",
		},
	})
	return router, rl, fwd
}

func TestRouter_BuiltInRoutes(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	for _, p := range []string{"/health", "/metrics"} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", p, resp.StatusCode)
		}
	}
}

func TestRouter_ReadyReflectsTargetPool(t *testing.T) {
	router, _, fwd := newTestRouter(t, "")
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("empty pool: want 503, got %d", resp.StatusCode)
	}

	fwd.UpdateTargets([]forwarder.Target{{Name: "b", URL: "http://127.0.0.1:1"}})
	resp, err = http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("populated pool: want 200, got %d", resp.StatusCode)
	}
}

func TestRouter_ForwardsToUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(backend.Close)

	router, _, _ := newTestRouter(t, backend.URL)
	gw := httptest.NewServer(router)
	t.Cleanup(gw.Close)

	resp, err := http.Get(gw.URL + "/hello")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestRouter_NoUpstreamReturns502(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/anything")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", resp.StatusCode)
	}
}

func TestRouter_AdminUnknownRouteReturns404WithEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
	var body struct {
		AvailableEndpoints []string `json:"availableEndpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.AvailableEndpoints) == 0 {
		t.Fatal("expected availableEndpoints to be populated")
	}
}

func TestRouter_AdminWhitelistRoundtrip(t *testing.T) {
	router, _, _ := newTestRouter(t, "")
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/whitelist", "application/json", strings.NewReader(`{"ip":"203.0.113.5"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST whitelist: want 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/whitelist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Whitelist []string `json:"whitelist"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, ip := range body.Whitelist {
		if ip == "203.0.113.5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 203.0.113.5 in whitelist, got %v", body.Whitelist)
	}
}
