package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/gatewarden/gatewarden/internal/reqctx"
)

// CoordinatorConfig mirrors the subset of pkg/config.Config the coordinator
// needs, kept separate so this package doesn't import the top-level config
// package (avoids an import cycle with internal/pipeline wiring both).
type CoordinatorConfig struct {
	Tracker       Config
	TrustProxy    bool
	Disabled      bool
	SkipPaths     []string
	ListFile      string
}

// Coordinator wraps a Tracker with allow/deny lists, skip paths, and the
// ClientKey extractor (spec section 4.2).
type Coordinator struct {
	cfg       CoordinatorConfig
	tracker   *Tracker
	lists     *keySets
	skipGlobs []glob.Glob
	watcher   *fsnotify.Watcher
}

// NewCoordinator wires a Coordinator: loads any persisted allow/deny list, compiles
// skip-path patterns (plain prefixes as spec requires, plus glob patterns
// for operators who opt into them), and starts a file watcher so external
// edits to the list file take effect without a restart.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		tracker: New(cfg.Tracker),
		lists:   newKeySets(),
	}
	if err := loadLists(cfg.ListFile, c.lists); err != nil {
		log.Warn().Err(err).Str("file", cfg.ListFile).Msg("loading persisted allow/deny lists")
	}
	for _, p := range cfg.SkipPaths {
		if strings.ContainsAny(p, "*?[{") {
			if g, err := glob.Compile(p); err == nil {
				c.skipGlobs = append(c.skipGlobs, g)
				continue
			}
			log.Warn().Str("pattern", p).Msg("invalid skip-path glob, pattern ignored")
		}
	}
	c.watchList()
	return c
}

func (c *Coordinator) watchList() {
	if c.cfg.ListFile == "" {
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("allow/deny list watcher unavailable")
		return
	}
	if err := w.Add(c.cfg.ListFile); err != nil {
		// File may not exist yet; that's fine, admin mutations create it.
		_ = w.Close()
		return
	}
	c.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := loadLists(c.cfg.ListFile, c.lists); err != nil {
						log.Warn().Err(err).Msg("reloading allow/deny lists")
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("allow/deny list watcher error")
			}
		}
	}()
}

// Close releases the tracker janitor and file watcher.
func (c *Coordinator) Close() {
	c.tracker.Close()
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
}

// ClientKeyFor extracts the ClientKey for a request per spec section 3,
// honoring the coordinator's trust_proxy policy.
func (c *Coordinator) ClientKeyFor(r *http.Request) string {
	xff := ""
	realIP := ""
	if c.cfg.TrustProxy {
		xff = r.Header.Get("X-Forwarded-For")
		realIP = r.Header.Get("X-Real-IP")
	}
	return reqctx.ExtractKey(c.cfg.TrustProxy, xff, realIP, r.RemoteAddr)
}

func (c *Coordinator) isSkipped(path string) bool {
	for _, prefix := range c.cfg.SkipPaths {
		if !strings.ContainsAny(prefix, "*?[{") && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, g := range c.skipGlobs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Check runs the full ordering from spec section 4.2: disabled → skip-path
// → allow-list → deny-list → tracker.
func (c *Coordinator) Check(r *http.Request, now time.Time) (Decision, string) {
	key := c.ClientKeyFor(r)

	if c.cfg.Disabled {
		return Decision{Allowed: true, Reason: ReasonDisabled}, key
	}
	if c.isSkipped(r.URL.Path) {
		return Decision{Allowed: true, Reason: ReasonSkipped}, key
	}
	if c.lists.IsAllowed(key) {
		return Decision{Allowed: true, Remaining: -1, Reason: ReasonWhitelisted}, key
	}
	if c.lists.IsDenied(key) {
		return Decision{Allowed: false, Reason: ReasonBlacklisted}, key
	}
	return c.tracker.Track(key, now), key
}

// ---- admin mutators ----

func (c *Coordinator) AddToAllowlist(key string) {
	c.lists.AddAllow(key)
	c.persist()
}

func (c *Coordinator) RemoveFromAllowlist(key string) {
	c.lists.RemoveAllow(key)
	c.persist()
}

func (c *Coordinator) AddToDenylist(key string) {
	c.lists.AddDeny(key)
	c.persist()
}

func (c *Coordinator) RemoveFromDenylist(key string) {
	c.lists.RemoveDeny(key)
	c.persist()
}

func (c *Coordinator) Block(key string, d time.Duration) { c.tracker.Block(key, d, time.Now()) }
func (c *Coordinator) Unblock(key string)                { c.tracker.Unblock(key) }
func (c *Coordinator) IsBlocked(key string) bool          { return c.tracker.IsBlocked(key) }
func (c *Coordinator) StatsFor(key string) Stats          { return c.tracker.StatsFor(key) }
func (c *Coordinator) GlobalStats() GlobalStats           { return c.tracker.GlobalStatsSnapshot() }

// Limit returns the configured per-window request cap, for response-header
// reporting (spec section 6's x-ratelimit-limit).
func (c *Coordinator) Limit() int {
	if c.cfg.Tracker.MaxRequests < 1 {
		return 1
	}
	return c.cfg.Tracker.MaxRequests
}

// IsAllowlisted reports whether key is on the allow list, letting other
// engines (reputation) defer to this one shared list instead of keeping a
// second copy.
func (c *Coordinator) IsAllowlisted(key string) bool {
	return c.lists.IsAllowed(key)
}

func (c *Coordinator) ListSizes() (allowSize, denySize int) {
	allow, deny := c.lists.Snapshot()
	return len(allow), len(deny)
}

// Allowlist returns a snapshot of the current allow-list contents.
func (c *Coordinator) Allowlist() []string {
	allow, _ := c.lists.Snapshot()
	return allow
}

// Denylist returns a snapshot of the current deny-list contents.
func (c *Coordinator) Denylist() []string {
	_, deny := c.lists.Snapshot()
	return deny
}

func (c *Coordinator) persist() {
	if err := persistLists(c.cfg.ListFile, c.lists); err != nil {
		log.Debug().Err(err).Msg("persisting allow/deny lists")
	}
}
