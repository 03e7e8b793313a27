package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/ratelimit"
)

func newCoordinator(t *testing.T) *ratelimit.Coordinator {
	t.Helper()
	c := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Tracker: ratelimit.Config{
			Window:          time.Second,
			MaxRequests:     5,
			BlockDuration:   2 * time.Second,
			CleanupInterval: time.Hour,
		},
		TrustProxy: true,
		SkipPaths:  []string{"/health"},
		ListFile:   filepath.Join(t.TempDir(), "lists.yaml"),
	})
	t.Cleanup(c.Close)
	return c
}

func TestCoordinator_AllowlistPrecedence(t *testing.T) {
	c := newCoordinator(t)
	c.AddToAllowlist("10.0.0.1")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < 1000; i++ {
		d, _ := c.Check(req, time.Now())
		if !d.Allowed || d.Reason != ratelimit.ReasonWhitelisted {
			t.Fatalf("request %d: expected whitelisted allow, got %+v", i, d)
		}
	}
}

func TestCoordinator_DenylistShortCircuits(t *testing.T) {
	c := newCoordinator(t)
	c.AddToDenylist("6.6.6.6")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "6.6.6.6:1"
	d, _ := c.Check(req, time.Now())
	if d.Allowed || d.Reason != ratelimit.ReasonBlacklisted {
		t.Fatalf("expected blacklisted deny, got %+v", d)
	}
}

func TestCoordinator_AllowDenyAreDisjoint(t *testing.T) {
	c := newCoordinator(t)
	c.AddToAllowlist("1.1.1.1")
	c.AddToDenylist("1.1.1.1")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "1.1.1.1:1"
	d, _ := c.Check(req, time.Now())
	if d.Reason != ratelimit.ReasonBlacklisted {
		t.Fatalf("last write wins and sets must stay disjoint: got %+v", d)
	}
}

func TestCoordinator_SkipPathBypassesTracker(t *testing.T) {
	c := newCoordinator(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "9.9.9.9:1"
	for i := 0; i < 10; i++ {
		d, _ := c.Check(req, time.Now())
		if d.Reason != ratelimit.ReasonSkipped {
			t.Fatalf("expected skipped, got %+v", d)
		}
	}
}

func TestCoordinator_RoundTripAllowlist(t *testing.T) {
	c := newCoordinator(t)
	before, _ := c.ListSizes()
	c.AddToAllowlist("2.2.2.2")
	c.RemoveFromAllowlist("2.2.2.2")
	after, _ := c.ListSizes()
	if before != after {
		t.Fatalf("allowlist round-trip: before=%d after=%d", before, after)
	}
}

func TestCoordinator_BlockUnblockRoundTrip(t *testing.T) {
	c := newCoordinator(t)
	c.Block("3.3.3.3", time.Minute)
	if !c.IsBlocked("3.3.3.3") {
		t.Fatal("expected blocked")
	}
	c.Unblock("3.3.3.3")
	if c.IsBlocked("3.3.3.3") {
		t.Fatal("expected unblocked")
	}
}
