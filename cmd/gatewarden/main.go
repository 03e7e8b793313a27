// Command gatewarden runs the reverse-proxy gateway: it loads policy from
// the environment (with an optional YAML overlay), wires the rate-limit,
// bot-scoring, reputation, and forwarding engines into the request pipeline,
// starts the discovery loop when no manual upstream list is configured, and
// serves HTTP until a termination signal asks it to drain and exit.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatewarden/gatewarden/internal/admin"
	"github.com/gatewarden/gatewarden/internal/botscore"
	"github.com/gatewarden/gatewarden/internal/discovery"
	"github.com/gatewarden/gatewarden/internal/forwarder"
	"github.com/gatewarden/gatewarden/internal/httpserver"
	"github.com/gatewarden/gatewarden/internal/pipeline"
	"github.com/gatewarden/gatewarden/internal/ratelimit"
	"github.com/gatewarden/gatewarden/internal/reputation"
	"github.com/gatewarden/gatewarden/pkg/config"
)

func main() {
	configureLogging()

	cfgPath := os.Getenv("GATEWARDEN_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config")
	}

	rdb := redis.NewClient(&redis.Options{Addr: getenv("REDIS_ADDR", cfg.RedisAddr)})
	if pingErr := pingRedis(rdb); pingErr != nil {
		log.Warn().Err(pingErr).Msg("redis not reachable yet; reputation quota falls back to process-local counting")
	}

	rateLimit := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Tracker: ratelimit.Config{
			Window:          cfg.RateLimitWindow,
			MaxRequests:     cfg.RateLimitMax,
			BlockDuration:   cfg.RateLimitBlockFor,
			CleanupInterval: cfg.RateLimitCleanup,
		},
		TrustProxy: cfg.TrustProxy,
		ListFile:   cfg.AllowDenyListFile,
	})
	defer rateLimit.Close()

	scorer := botscore.New(cfg.BotScoreThreshold)
	defer scorer.Close()

	repEngine := reputation.New(reputation.EngineConfig{
		Enabled:        cfg.ReputationEnabled,
		APIKey:         cfg.ReputationAPIKey,
		CacheFile:      cfg.ReputationCacheFile,
		CacheTTL:       cfg.ReputationCacheTTL,
		DailyQuota:     cfg.ReputationDailyQuota,
		BlockThreshold: cfg.ReputationBlockThresh,
		WarnThreshold:  cfg.ReputationWarnThresh,
		Sync:           cfg.ReputationSync(),
		Redis:          rdb,
		IsAllowlisted:  rateLimit.IsAllowlisted,
	})
	defer repEngine.Close()

	fwd := forwarder.New(forwarder.Config{
		StealthMode: cfg.StealthMode,
		ProxyID:     "gatewarden",
	})

	var discoveryLoop *discovery.Loop
	if manual := manualTargets(cfg.UpstreamHosts); len(manual) > 0 {
		fwd.UpdateTargets(manual)
		log.Info().Int("targets", len(manual)).Msg("using manually configured upstreams; discovery disabled")
	} else if cfg.AutoDiscover && dockerSocketReachable() {
		discoveryLoop = discovery.New(discovery.Config{
			Runtime:  discovery.NewDockerRuntime(),
			Sink:     fwd,
			Network:  cfg.OverlayNetwork,
			SelfName: cfg.SelfName,
			Interval: cfg.DiscoverEvery,
		})
		log.Info().Str("network", cfg.OverlayNetwork).Dur("interval", cfg.DiscoverEvery).Msg("discovery loop started")
	} else {
		log.Warn().Msg("no upstreams configured and discovery unavailable; /ready will report 503")
	}

	pipelineCfg := pipeline.Config{
		RateLimit:          rateLimit,
		BotScore:           scorer,
		BotScoreEnabled:    cfg.BotDetectionEnabled,
		AllowGoodBots:      cfg.AllowGoodBots,
		Reputation:         repEngine,
		ReputationSync:     cfg.ReputationSync(),
		ReputationEnabled:  cfg.ReputationEnabled,
		ReputationBlockThr: cfg.ReputationBlockThresh,
		AccessLogEnabled:   true,
		StealthMode:        cfg.StealthMode,
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Pipeline:  pipelineCfg,
		Forwarder: fwd,
		Admin: admin.Deps{
			RateLimit: rateLimit,
			Forwarder: fwd,
			StartedAt: time.Now(),
			Version:   "dev",
		},
	})

	httpserver.EnableDrainFlag(true)

	addr := net.JoinHostPort(cfg.Host, itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Bool("stealth_mode", cfg.StealthMode).
		Bool("trust_proxy", cfg.TrustProxy).
		Bool("bot_detection", cfg.BotDetectionEnabled).
		Bool("reputation", cfg.ReputationEnabled).
		Msg("gatewarden starting")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")

	httpserver.SetDraining(true)

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown did not complete in time; forcing close")
		_ = srv.Close()
	}

	if discoveryLoop != nil {
		discoveryLoop.Close()
	}
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}

	log.Info().Msg("gatewarden exited")
}

func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func pingRedis(rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

func manualTargets(hosts []string) []forwarder.Target {
	out := make([]forwarder.Target, 0, len(hosts))
	for i, h := range hosts {
		out = append(out, forwarder.Target{Name: "manual-" + itoa(i), URL: h})
	}
	return out
}

// dockerSocketReachable reports whether the local container-runtime control
// socket accepts connections, per spec section 4.6: discovery is disabled
// when the runtime socket is not reachable.
func dockerSocketReachable() bool {
	conn, err := net.DialTimeout("unix", "/var/run/docker.sock", 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
