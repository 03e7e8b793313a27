package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/forwarder"
	"github.com/rs/zerolog/log"
)

// TargetSink is the subset of forwarder.Forwarder the loop needs.
type TargetSink interface {
	UpdateTargets(targets []forwarder.Target)
}

// Stats is a point-in-time snapshot of the loop's last scan.
type Stats struct {
	LastScan     time.Time
	TargetCount  int
	LastError    string
	ScanCount    int64
	ErrorCount   int64
}

// Config configures a Loop.
type Config struct {
	Runtime  ContainerRuntime
	Sink     TargetSink
	Network  string
	SelfName string
	Interval time.Duration
}

// Loop periodically scans the container runtime and swaps the forwarder's
// target pool (spec section 4.6). Each container and each tick is
// error-tolerant: one bad container is skipped, one failed scan logs a
// warning and retains the prior target set rather than emptying the pool.
type Loop struct {
	cfg  Config
	mu   sync.Mutex
	stat Stats

	lastURLs map[string]struct{}

	stop chan struct{}
	done chan struct{}
}

// New constructs a Loop with sane defaults and starts its background scan
// goroutine.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	l := &Loop{cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}
	go l.run()
	return l
}

// Close stops the scan goroutine.
func (l *Loop) Close() {
	close(l.stop)
	<-l.done
}

// Stats returns a copy of the loop's last-scan statistics.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stat
}

func (l *Loop) run() {
	defer close(l.done)
	l.scan()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.scan()
		}
	}
}

func (l *Loop) scan() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	containers, err := l.cfg.Runtime.ListContainers(ctx)
	l.mu.Lock()
	l.stat.ScanCount++
	l.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("network", l.cfg.Network).Msg("discovery scan failed; keeping prior targets")
		l.mu.Lock()
		l.stat.LastError = err.Error()
		l.stat.ErrorCount++
		l.mu.Unlock()
		return
	}

	seen := make(map[string]struct{})
	targets := make([]forwarder.Target, 0, len(containers))
	for _, c := range containers {
		if !c.Running {
			continue
		}
		if l.cfg.SelfName != "" && strings.Contains(c.Name, l.cfg.SelfName) {
			continue
		}

		// Step 3: join the container to the overlay network before
		// trusting it as an upstream. Per-container errors are logged and
		// the container is skipped this tick, not fatal to the scan.
		if err := l.cfg.Runtime.JoinNetwork(ctx, l.cfg.Network, c.ID); err != nil {
			log.Warn().Err(err).Str("container", c.Name).Str("network", l.cfg.Network).Msg("discovery: joining container to overlay network")
			continue
		}

		// Step 4: one DiscoveredUpstream per exposed TCP port.
		for _, port := range c.Ports {
			url := fmt.Sprintf("http://%s:%d", c.Name, port)
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			targets = append(targets, forwarder.Target{Name: c.Name, URL: url})
		}
	}

	l.mu.Lock()
	changed := !sameURLSet(l.lastURLs, seen)
	if changed {
		l.lastURLs = seen
	}
	l.mu.Unlock()

	if changed {
		l.cfg.Sink.UpdateTargets(targets)
		log.Info().Int("targets", len(targets)).Msg("discovery target set changed")
	}

	l.mu.Lock()
	l.stat.LastScan = time.Now()
	l.stat.TargetCount = len(targets)
	l.stat.LastError = ""
	l.mu.Unlock()

	log.Debug().Int("targets", len(targets)).Bool("changed", changed).Msg("discovery scan complete")
}

func sameURLSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
