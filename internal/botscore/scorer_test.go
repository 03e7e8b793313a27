package botscore_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatewarden/gatewarden/internal/botscore"
)

func TestScorer_SqlmapScenario(t *testing.T) {
	s := botscore.New(70)
	defer s.Close()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("User-Agent", "sqlmap/1.0")

	v := s.Score(req, "1.2.3.4")
	if v.Score != 75 {
		t.Fatalf("score = %d, want 75", v.Score)
	}
	if !v.IsBot {
		t.Fatal("expected is_bot=true")
	}
	found := false
	for _, r := range v.Reasons {
		if r == "bad_pattern:sqlmap" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons missing bad_pattern:sqlmap: %v", v.Reasons)
	}
}

func TestScorer_KnownGoodBotPassthroughPredicate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("User-Agent", "Googlebot/2.1")
	if !botscore.IsKnownGoodBot(req) {
		t.Fatal("expected Googlebot recognized as known-good bot")
	}

	s := botscore.New(70)
	defer s.Close()
	v := s.Score(req, "5.5.5.5")
	if !v.IsBot {
		t.Fatal("expected is_bot=true even for a known-good bot (pipeline decides bypass separately)")
	}
}

func TestScorer_ScoreCappedAt100(t *testing.T) {
	s := botscore.New(70)
	defer s.Close()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("User-Agent", "sqlmap nikto nmap scanner")
	req.Header.Set("Connection", "close")
	v := s.Score(req, "6.6.6.6")
	if v.Score > 100 {
		t.Fatalf("score exceeds cap: %d", v.Score)
	}
}

func TestScorer_DeterministicForIdenticalHeaders(t *testing.T) {
	s := botscore.New(70)
	defer s.Close()
	mk := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.Header.Set("User-Agent", "python-requests/2.0")
		r.Header.Set("Accept", "*/*")
		return r
	}
	v1 := s.Score(mk(), "k1")
	v2 := s.Score(mk(), "k2") // different key -> independent temporal state
	if v1.Score != v2.Score {
		t.Fatalf("non-deterministic score for identical headers: %d vs %d", v1.Score, v2.Score)
	}
}
