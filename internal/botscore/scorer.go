// Package botscore implements the behavioral bot-scoring engine (spec
// section 4.3): a pure per-request signal function plus a per-client
// temporal pattern tracker.
package botscore

import (
	"net/http"
	"strings"
)

// Verdict is the scorer's result for a single request.
type Verdict struct {
	IsBot   bool
	Score   int
	Reasons []string
	Allowed bool
}

var knownBots = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider", "yandexbot",
	"sogou", "facebot", "ia_archiver", "semrushbot", "ahrefsbot", "mj12bot",
	"dotbot", "petalbot", "bytespider",
}

var scriptedClients = []string{
	"python-requests", "python-urllib", "curl", "wget", "httpie", "postman",
	"insomnia", "axios", "node-fetch", "go-http-client", "java", "libwww",
	"lwp-trivial", "php", "ruby",
}

var scanners = []string{
	"sqlmap", "nikto", "nmap", "masscan", "zgrab", "nessus", "openvas", "burp",
	"owasp", "acunetix", "dirbuster", "gobuster", "wfuzz", "hydra", "medusa",
}

var knownGoodBots = []string{"googlebot", "bingbot", "duckduckbot"}

// Scorer is a pure function of request headers plus the per-key pattern
// tracker's temporal state.
type Scorer struct {
	threshold int
	patterns  *PatternTracker
}

// New builds a Scorer with the given bot-score cutoff (spec default 70).
func New(threshold int) *Scorer {
	return &Scorer{threshold: threshold, patterns: NewPatternTracker()}
}

// Close stops the pattern tracker's janitor.
func (s *Scorer) Close() { s.patterns.Close() }

// Score evaluates one request for key (the ClientKey, used only to look up
// temporal pattern state — it never feeds the score directly).
func (s *Scorer) Score(r *http.Request, key string) Verdict {
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	score := 0
	var reasons []string

	add := func(n int, reason string) {
		score += n
		reasons = append(reasons, reason)
	}

	if ua == "" || len(ua) < 10 {
		add(30, "missing_or_short_ua")
	}
	if sub, ok := firstMatch(ua, knownBots); ok {
		add(20, "known_bot:"+sub)
	}
	if sub, ok := firstMatch(ua, scriptedClients); ok {
		add(15, "suspicious_ua:"+sub)
	}
	if sub, ok := firstMatch(ua, scanners); ok {
		add(50, "bad_pattern:"+sub)
	}

	if r.Header.Get("Accept") == "" {
		add(10, "missing_accept")
	}
	if r.Header.Get("Accept-Language") == "" {
		add(10, "missing_accept_language")
	}
	if r.Header.Get("Accept-Encoding") == "" {
		add(5, "missing_accept_encoding")
	}
	if r.Header.Get("X-Forwarded-For") != "" && r.Header.Get("Via") == "" {
		add(5, "proxy_without_via")
	}

	rapidPoints, rapidReason := s.patterns.Observe(key)
	if rapidPoints > 0 {
		add(rapidPoints, rapidReason)
	}

	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Connection")), "close") {
		add(5, "connection_close")
	}

	if score > 100 {
		score = 100
	}

	isBot := score >= s.threshold
	return Verdict{IsBot: isBot, Score: score, Reasons: reasons, Allowed: !isBot}
}

// IsKnownGoodBot is the separate "reputable crawler" predicate the pipeline
// wrapper consults to optionally bypass blocking while still recording the
// bot verdict (spec section 4.3).
func IsKnownGoodBot(r *http.Request) bool {
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	_, ok := firstMatch(ua, knownGoodBots)
	return ok
}

func firstMatch(haystack string, needles []string) (string, bool) {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n, true
		}
	}
	return "", false
}
