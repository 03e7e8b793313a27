package reputation

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/reqctx"
	"github.com/gatewarden/gatewarden/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivate reports whether ip falls in a private, loopback, or link-local
// range, using net.IP bitmask comparisons rather than string-prefix
// matching so IPv6 addresses are resolved correctly regardless of their
// textual representation (spec section 9's Open Question resolution).
func IsPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, block := range privateBlocks {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}

// EngineConfig configures an Engine. IsAllowlisted lets the engine defer to
// the rate-limit coordinator's shared allow-list (spec section 4.4:
// whitelisted IPs skip the external check) instead of owning a second copy
// of the same list.
type EngineConfig struct {
	Enabled         bool
	APIKey          string
	CacheFile       string
	CacheTTL        time.Duration
	CacheMaxSize    int
	DailyQuota      int
	BlockThreshold  int
	WarnThreshold   int
	Sync            bool
	FlushInterval   time.Duration
	Redis           *redis.Client
	IsAllowlisted   func(ip string) bool
}

// Engine is the IP-reputation lookup service described in spec section 4.4.
type Engine struct {
	cfg      EngineConfig
	cache    *cache
	quota    *quota
	provider *provider

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New constructs an Engine and restores any prior persisted state from
// cfg.CacheFile.
func New(cfg EngineConfig) *Engine {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}
	e := &Engine{
		cfg:      cfg,
		cache:    newCache(cfg.CacheTTL, cfg.CacheMaxSize),
		quota:    newQuota(cfg.DailyQuota, cfg.Redis),
		provider: newProvider(cfg.APIKey),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	now := time.Now()
	if st, err := loadState(cfg.CacheFile); err != nil {
		log.Warn().Err(err).Str("file", cfg.CacheFile).Msg("reputation state load failed")
	} else if st.SavedAt.IsZero() {
		// no prior file
	} else {
		e.cache.restore(st.Cache, now)
		e.quota.restore(st.APICallsToday, st.APIResetTime, now)
	}

	go e.flushLoop()
	return e
}

// Close flushes persisted state and stops the background flush loop.
func (e *Engine) Close() {
	close(e.stop)
	<-e.done
	if err := e.flush(); err != nil {
		log.Warn().Err(err).Msg("reputation final state flush failed")
	}
}

func (e *Engine) flushLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.flush(); err != nil {
				log.Debug().Err(err).Msg("reputation state flush failed")
			}
		}
	}
}

func (e *Engine) flush() error {
	now := time.Now()
	count, resetAt := e.quota.snapshot()
	st := persistedState{
		Cache:         e.cache.snapshot(now),
		APICallsToday: count,
		APIResetTime:  resetAt,
		SavedAt:       now,
	}
	return saveState(e.cfg.CacheFile, st)
}

// Check runs the full lookup pipeline for ip (spec section 4.4, steps 1-7).
// Every non-OK path is fail-open: the caller is responsible for treating an
// unblocked Verdict as "allow" regardless of Reason.
func (e *Engine) Check(ctx context.Context, ip string) Verdict {
	if !e.cfg.Enabled {
		return Verdict{Reason: ReasonOK}
	}
	if IsPrivate(ip) {
		return Verdict{Reason: ReasonPrivateIP}
	}
	if e.cfg.IsAllowlisted != nil && e.cfg.IsAllowlisted(ip) {
		return Verdict{Reason: ReasonWhitelisted}
	}

	now := time.Now()
	if rec, ok := e.cache.get(ip, now); ok {
		return e.deriveVerdict(rec, true, ReasonOK)
	}

	if e.cfg.APIKey == "" {
		return Verdict{Reason: ReasonNoAPIKey}
	}

	if !e.quota.tryConsume(ctx, now) {
		log.Warn().Str("client_ip", reqctx.MaskKey(ip)).Msg("reputation daily quota exhausted")
		return Verdict{Reason: ReasonRateLimited}
	}

	rec, err := e.provider.lookup(ctx, ip)
	if err != nil {
		log.Warn().Err(err).Str("client_ip", reqctx.MaskKey(ip)).Msg("reputation provider lookup failed")
		return Verdict{Reason: ReasonAPIError}
	}

	e.cache.put(ip, rec)
	return e.deriveVerdict(rec, false, ReasonOK)
}

func (e *Engine) deriveVerdict(rec Record, cached bool, reason Reason) Verdict {
	v := Verdict{
		Score:      rec.Score,
		Reason:     reason,
		Cached:     cached,
		Reports:    rec.Reports,
		Categories: rec.Categories,
		Country:    rec.Country,
		ISP:        rec.ISP,
	}
	switch {
	case rec.Score >= e.cfg.BlockThreshold:
		v.Blocked = true
		log.Warn().Int("score", rec.Score).Msg("reputation score above block threshold")
	case rec.Score >= e.cfg.WarnThreshold:
		log.Info().Int("score", rec.Score).Msg("reputation score above warn threshold")
	}
	return v
}

// Report submits an abuse report to the external provider (spec section
// 4.4's Report operation). Refuses for private IPs or when no API key is
// configured.
func (e *Engine) Report(ctx context.Context, ip string, categories []int, comment string) error {
	if IsPrivate(ip) || e.cfg.APIKey == "" {
		return nil
	}
	if err := e.provider.report(ctx, ip, categories, comment); err != nil {
		return err
	}
	metrics.ReputationReportsSent.Inc()
	return nil
}
