// Package config loads Gatewarden's runtime policy from environment
// variables, with an optional checked-in YAML overlay for operators who
// prefer a file. The overlay (if given) loads first; environment variables
// always win, matching spec's env-var table.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the fully-resolved runtime policy.
type Config struct {
	Port int
	Host string

	UpstreamHosts []string
	AutoDiscover  bool
	DiscoverEvery time.Duration

	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitBlockFor time.Duration
	RateLimitCleanup  time.Duration

	BotDetectionEnabled bool
	BotScoreThreshold   int
	AllowGoodBots       bool

	ReputationEnabled     bool
	ReputationBlockThresh int
	ReputationWarnThresh  int
	ReputationCheckMode   string
	ReputationCacheTTL    time.Duration
	ReputationAPIKey      string
	ReputationCacheFile   string
	ReputationDailyQuota  int

	TrustProxy  bool
	StealthMode bool

	SelfName       string
	OverlayNetwork string

	AllowDenyListFile string
	RedisAddr         string

	rawWindowMs   int
	rawBlockMs    int
	rawCleanupMs  int
	rawCacheTTLMs int
	rawDiscoverMs int
}

// Load resolves configuration from an optional YAML overlay file followed by
// environment variables.
func Load(overlayPath string) (*Config, error) {
	k := koanf.New(".")

	if overlayPath != "" {
		if err := k.Load(file.Provider(overlayPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config overlay %s: %w", overlayPath, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, v string) (string, any) {
			return strings.ToLower(key), v
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := defaults()

	if v := k.Int("port"); v != 0 {
		cfg.Port = v
	}
	if v := k.String("host"); v != "" {
		cfg.Host = v
	}
	if raw := k.String("upstream_hosts"); raw != "" {
		cfg.UpstreamHosts = splitCSV(raw)
	}
	if k.Exists("auto_discover") {
		cfg.AutoDiscover = k.Bool("auto_discover")
	}
	if v := k.Int("auto_discover_interval_ms"); v != 0 {
		cfg.rawDiscoverMs = v
	}

	if v := k.Int("rate_limit_window_ms"); v != 0 {
		cfg.rawWindowMs = v
	}
	if v := k.Int("rate_limit_max_requests"); v != 0 {
		cfg.RateLimitMax = v
	}
	if v := k.Int("rate_limit_block_duration_ms"); v != 0 {
		cfg.rawBlockMs = v
	}

	if k.Exists("bot_detection_enabled") {
		cfg.BotDetectionEnabled = k.Bool("bot_detection_enabled")
	}
	if v := k.Int("bot_score_threshold"); v != 0 {
		cfg.BotScoreThreshold = v
	}
	if k.Exists("allow_good_bots") {
		cfg.AllowGoodBots = k.Bool("allow_good_bots")
	}

	if k.Exists("ip_reputation_enabled") {
		cfg.ReputationEnabled = k.Bool("ip_reputation_enabled")
	}
	if v := k.Int("ip_reputation_block_threshold"); v != 0 {
		cfg.ReputationBlockThresh = v
	}
	if v := k.Int("ip_reputation_warn_threshold"); v != 0 {
		cfg.ReputationWarnThresh = v
	}
	if v := k.String("ip_reputation_check_mode"); v != "" {
		cfg.ReputationCheckMode = v
	}
	if v := k.Int("ip_reputation_cache_ttl"); v != 0 {
		cfg.rawCacheTTLMs = v
	}
	if v := k.String("ip_reputation_api_key"); v != "" {
		cfg.ReputationAPIKey = v
	}
	if v := k.String("ip_reputation_cache_file"); v != "" {
		cfg.ReputationCacheFile = v
	}
	if v := k.Int("ip_reputation_daily_quota"); v != 0 {
		cfg.ReputationDailyQuota = v
	}

	if k.Exists("trust_proxy") {
		cfg.TrustProxy = k.Bool("trust_proxy")
	}
	if k.Exists("stealth_mode") {
		cfg.StealthMode = k.Bool("stealth_mode")
	}

	if v := k.String("self_name"); v != "" {
		cfg.SelfName = v
	}
	if v := k.String("overlay_network"); v != "" {
		cfg.OverlayNetwork = v
	}
	if v := k.String("list_file"); v != "" {
		cfg.AllowDenyListFile = v
	}
	if v := k.String("redis_addr"); v != "" {
		cfg.RedisAddr = v
	}

	cfg.resolveDurations()
	cfg.applyMinimums()
	return cfg, nil
}

// defaults returns the spec's documented default table.
func defaults() *Config {
	return &Config{
		Port:                  3000,
		Host:                  "0.0.0.0",
		AutoDiscover:          true,
		rawDiscoverMs:         30000,
		rawWindowMs:           60000,
		RateLimitMax:          100,
		rawBlockMs:            300000,
		BotDetectionEnabled:   true,
		BotScoreThreshold:     70,
		ReputationEnabled:     true,
		ReputationBlockThresh: 80,
		ReputationWarnThresh:  50,
		ReputationCheckMode:   "async",
		rawCacheTTLMs:         3600000,
		ReputationDailyQuota:  1000,
		ReputationCacheFile:   "data/reputation_cache.json",
		AllowDenyListFile:     "data/lists.yaml",
		TrustProxy:            true,
		StealthMode:           true,
		SelfName:              "gatewarden",
		OverlayNetwork:        "gatewarden_net",
	}
}

func (c *Config) resolveDurations() {
	c.RateLimitWindow = time.Duration(c.rawWindowMs) * time.Millisecond
	c.RateLimitBlockFor = time.Duration(c.rawBlockMs) * time.Millisecond
	c.RateLimitCleanup = c.RateLimitWindow
	if c.rawCleanupMs > 0 {
		c.RateLimitCleanup = time.Duration(c.rawCleanupMs) * time.Millisecond
	}
	c.ReputationCacheTTL = time.Duration(c.rawCacheTTLMs) * time.Millisecond
	c.DiscoverEvery = time.Duration(c.rawDiscoverMs) * time.Millisecond
}

// applyMinimums clamps values to the floors spec section 6 documents.
func (c *Config) applyMinimums() {
	if c.DiscoverEvery < 5*time.Second {
		c.DiscoverEvery = 5 * time.Second
	}
	if c.RateLimitWindow < time.Second {
		c.RateLimitWindow = time.Second
	}
	if c.RateLimitMax < 1 {
		c.RateLimitMax = 1
	}
	if c.RateLimitBlockFor < time.Second {
		c.RateLimitBlockFor = time.Second
	}
	if c.ReputationCacheTTL < time.Minute {
		c.ReputationCacheTTL = time.Minute
	}
	if c.BotScoreThreshold < 0 {
		c.BotScoreThreshold = 0
	}
	if c.BotScoreThreshold > 100 {
		c.BotScoreThreshold = 100
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReputationSync reports whether the reputation check runs inline before the
// next pipeline stage, or fire-and-forget.
func (c *Config) ReputationSync() bool {
	return strings.EqualFold(c.ReputationCheckMode, "sync")
}
