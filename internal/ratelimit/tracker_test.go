package ratelimit_test

import (
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/ratelimit"
)

func TestTracker_BoundaryAtMaxRequests(t *testing.T) {
	tr := ratelimit.New(ratelimit.Config{
		Window:          time.Second,
		MaxRequests:     5,
		BlockDuration:   2 * time.Second,
		CleanupInterval: time.Hour,
	})
	defer tr.Close()

	now := time.Now()
	for i := 0; i < 5; i++ {
		d := tr.Track("1.2.3.4", now)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed, got blocked (%s)", i, d.Reason)
		}
	}
	d := tr.Track("1.2.3.4", now)
	if d.Allowed || !d.Blocked || d.Reason != ratelimit.ReasonRateLimited {
		t.Fatalf("6th request: want blocked/rate_limit_exceeded, got %+v", d)
	}

	// a request at exactly blocked_until is treated as unblocked
	after := now.Add(2 * time.Second)
	d2 := tr.Track("1.2.3.4", after)
	if !d2.Allowed {
		t.Fatalf("request at blocked_until: want allowed, got %+v", d2)
	}
}

func TestTracker_RemainingNeverNegative(t *testing.T) {
	tr := ratelimit.New(ratelimit.Config{Window: time.Minute, MaxRequests: 3, BlockDuration: time.Minute, CleanupInterval: time.Hour})
	defer tr.Close()

	now := time.Now()
	for i := 0; i < 3; i++ {
		d := tr.Track("k", now)
		if d.Remaining < 0 || d.Remaining >= 3 {
			t.Fatalf("remaining out of range: %d", d.Remaining)
		}
	}
}

func TestTracker_TotalBlocksIncrementsOnce(t *testing.T) {
	tr := ratelimit.New(ratelimit.Config{Window: time.Second, MaxRequests: 1, BlockDuration: time.Minute, CleanupInterval: time.Hour})
	defer tr.Close()

	now := time.Now()
	tr.Track("k", now)
	tr.Track("k", now)
	tr.Track("k", now) // still blocked, no additional transition

	st := tr.StatsFor("k")
	if st.TotalBlocks != 1 {
		t.Fatalf("TotalBlocks = %d, want 1", st.TotalBlocks)
	}
}

func TestTracker_BlockAndUnblock(t *testing.T) {
	tr := ratelimit.New(ratelimit.Config{Window: time.Minute, MaxRequests: 100, BlockDuration: time.Minute, CleanupInterval: time.Hour})
	defer tr.Close()

	now := time.Now()
	tr.Block("10.0.0.1", time.Minute, now)
	if !tr.IsBlocked("10.0.0.1") {
		t.Fatal("expected blocked after Block()")
	}
	tr.Unblock("10.0.0.1")
	if tr.IsBlocked("10.0.0.1") {
		t.Fatal("expected unblocked after Unblock()")
	}
}

func TestTracker_JanitorNeverEvictsBlocked(t *testing.T) {
	tr := ratelimit.New(ratelimit.Config{Window: time.Millisecond, MaxRequests: 1, BlockDuration: time.Hour, CleanupInterval: 10 * time.Millisecond})
	defer tr.Close()

	now := time.Now()
	tr.Track("k", now)
	tr.Track("k", now) // blocks it

	// let the janitor run several times; the window has long passed, so only
	// the active block keeps the record (IsBlocked is false for a missing key)
	time.Sleep(50 * time.Millisecond)
	if !tr.IsBlocked("k") {
		t.Fatal("expected blocked")
	}
}
