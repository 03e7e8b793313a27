// Package pipeline assembles the fixed-order request pipeline (spec section
// 5): request-ID stamping, security headers, bot scoring, rate limiting,
// reputation checking, and access logging, each as chi middleware layered
// around the forwarder the same way the teacher layered its RateLimiter and
// AccessLogger around the reverse proxy.
package pipeline

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatewarden/gatewarden/internal/botscore"
	"github.com/gatewarden/gatewarden/internal/ratelimit"
	"github.com/gatewarden/gatewarden/internal/reputation"
	"github.com/gatewarden/gatewarden/internal/reqctx"
	"github.com/gatewarden/gatewarden/pkg/metrics"
)

// Config wires the engines each stage consults.
type Config struct {
	RateLimit          *ratelimit.Coordinator
	BotScore           *botscore.Scorer
	BotScoreEnabled    bool
	AllowGoodBots      bool
	Reputation         *reputation.Engine
	ReputationSync     bool
	ReputationEnabled  bool
	ReputationBlockThr int
	AccessLogEnabled   bool
	StealthMode        bool
}

// RequestID stamps a UUID-based request ID onto the context (spec section 5
// stage 1) as a reqctx value that stages downstream read without depending
// on chi's context key.
// The ID is echoed back as a response header only outside stealth mode,
// per spec section 6's "request-ID echoed" entry in the non-stealth list.
func RequestID(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			ctx, _ := reqctx.WithCommitFlag(r.Context())
			ctx = reqctx.WithRequestID(ctx, id)
			if !cfg.StealthMode {
				w.Header().Set("X-Request-Id", id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientKey resolves the request's ClientKey once, immediately after
// request-ID stamping, and stamps it into context so every downstream
// stage — BotScore, RateLimit, Reputation, the forwarder, and AccessLog —
// reads the same value instead of each re-deriving it (or, for BotScore and
// AccessLog, never seeing it at all).
func ClientKey(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.RateLimit != nil {
				key := cfg.RateLimit.ClientKeyFor(r)
				r = r.WithContext(reqctx.WithClientKey(r.Context(), key))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders stamps the static security headers spec section 6 requires
// on every response, always, regardless of stealth mode.
func SecurityHeaders(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Xss-Protection", "1; mode=block")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// BotScore runs the behavioral scorer and short-circuits with a 403 once
// the verdict crosses the configured threshold, unless the request matches
// a known-good bot and the operator has opted to allow those through. Every
// request is scored and its verdict recorded in metrics, bypassed or not.
func BotScore(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.BotScoreEnabled || cfg.BotScore == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := reqctx.ClientKey(r.Context())
			v := cfg.BotScore.Score(r, key)
			metrics.BotScoreHistogram.Observe(float64(v.Score))
			metrics.BotScoreTotal.WithLabelValues(boolLabel(v.IsBot)).Inc()
			if v.IsBot {
				if cfg.AllowGoodBots && botscore.IsKnownGoodBot(r) {
					next.ServeHTTP(w, r)
					return
				}
				log.Info().Str("client_key", reqctx.MaskKey(key)).Int("score", v.Score).Strs("reasons", v.Reasons).Msg("bot request blocked")
				writeJSONError(w, http.StatusForbidden, "bot_detected")
				reqctx.MarkCommitted(r.Context())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit resolves the ClientKey, runs it through the coordinator, and
// short-circuits on anything other than an allowed decision (spec section
// 5 stage 4).
func RateLimit(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.RateLimit == nil {
				next.ServeHTTP(w, r)
				return
			}
			decision, key := cfg.RateLimit.Check(r, time.Now())
			ctx := reqctx.WithClientKey(r.Context(), key)
			r = r.WithContext(ctx)

			metrics.RateLimitDecisionsTotal.WithLabelValues(string(decision.Reason)).Inc()

			// x-ratelimit-* and retry-after are only surfaced outside stealth
			// mode (spec section 6's non-stealth header list).
			if !cfg.StealthMode {
				w.Header().Set("X-RateLimit-Limit", itoa(cfg.RateLimit.Limit()))
				w.Header().Set("X-RateLimit-Remaining", itoa(decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", itoa(int(decision.Reset.Seconds())))
			}
			if !decision.Allowed {
				if decision.Blocked && !cfg.StealthMode {
					w.Header().Set("Retry-After", itoa(int(decision.Reset.Seconds())))
				}
				status := http.StatusTooManyRequests
				if decision.Reason == ratelimit.ReasonBlacklisted {
					status = http.StatusForbidden
				}
				writeJSONError(w, status, string(decision.Reason))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Reputation consults the reputation engine. When ReputationSync is set the
// stage blocks on the lookup before continuing; otherwise it fires the
// check in the background and lets the request proceed immediately (spec
// section 4.4's async mode). In async mode the stage never refuses a
// request, whatever the verdict; the result only feeds the metrics.
func Reputation(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.ReputationEnabled || cfg.Reputation == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := reqctx.ClientKey(r.Context())
			if key == "" || key == "unknown" {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.ReputationSync {
				v := cfg.Reputation.Check(r.Context(), key)
				metrics.ReputationChecksTotal.WithLabelValues(string(v.Reason)).Inc()
				if v.Blocked {
					writeJSONError(w, http.StatusForbidden, "reputation_blocked")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			go func() {
				v := cfg.Reputation.Check(r.Context(), key)
				metrics.ReputationChecksTotal.WithLabelValues(string(v.Reason)).Inc()
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per request, matching the teacher's
// AccessLogger/statusRecorder shape but keying the log line to ClientKey
// and request ID instead of raw RemoteAddr.
func AccessLog(cfg Config) func(http.Handler) http.Handler {
	if !cfg.AccessLogEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sr, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.code).
				Dur("duration", time.Since(start)).
				Str("client_key", reqctx.MaskKey(reqctx.ClientKey(r.Context()))).
				Str("req_id", reqctx.RequestID(r.Context())).
				Msg("http_request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

func writeJSONError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}` + "\n"))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa(n int) string {
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}
