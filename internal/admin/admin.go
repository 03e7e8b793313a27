// Package admin implements the operator-facing /api/* control plane (spec
// section 6): allow/deny list management, temporary blocks, and read-only
// status endpoints. Handlers follow the teacher's plain
// http.HandlerFunc-plus-json.Marshal style rather than reaching for a
// request-binding framework.
package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatewarden/gatewarden/internal/forwarder"
	"github.com/gatewarden/gatewarden/internal/ratelimit"
)

// Deps are the engines the admin API reads from and mutates.
type Deps struct {
	RateLimit  *ratelimit.Coordinator
	Forwarder  *forwarder.Forwarder
	StartedAt  time.Time
	Version    string
}

// Mount attaches every /api/* route to r.
func Mount(r chi.Router, d Deps) {
	r.Get("/api/whitelist", d.handleListAllow)
	r.Post("/api/whitelist", d.handleAddAllow)
	r.Delete("/api/whitelist/{ip}", d.handleRemoveAllow)
	r.Get("/api/blacklist", d.handleListDeny)
	r.Post("/api/blacklist", d.handleAddDeny)
	r.Delete("/api/blacklist/{ip}", d.handleRemoveDeny)
	r.Post("/api/block", d.handleBlock)
	r.Post("/api/unblock", d.handleUnblock)
	r.Get("/api/blocked/{ip}", d.handleBlockedStatus)
	r.Get("/api/config", d.handleConfig)
	r.Get("/api/stats", d.handleStats)
	r.Get("/api/ssl", d.handleSSL)

	// An explicit /api/* wildcard, not just r.NotFound, so this 404 shape
	// wins even when r is the same root mux the forwarder's own "/*"
	// catch-all is registered on (a longer static prefix is matched before
	// a shorter one backtracks to a sibling wildcard).
	r.Handle("/api/*", http.HandlerFunc(unknownAPIRoute))
	r.NotFound(unknownAPIRoute)
}

func unknownAPIRoute(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": "not_found",
		"availableEndpoints": []string{
			"GET /api/whitelist", "POST /api/whitelist", "DELETE /api/whitelist/{ip}",
			"GET /api/blacklist", "POST /api/blacklist", "DELETE /api/blacklist/{ip}",
			"POST /api/block", "POST /api/unblock",
			"GET /api/blocked/{ip}", "GET /api/config",
			"GET /api/stats", "GET /api/ssl",
		},
	})
}

type ipRequest struct {
	IP string `json:"ip"`
}

type blockRequest struct {
	IP       string `json:"ip"`
	Duration int    `json:"durationSeconds"`
}

func (d Deps) handleListAllow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"whitelist": d.RateLimit.Allowlist()})
}

func (d Deps) handleListDeny(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"blacklist": d.RateLimit.Denylist()})
}

func (d Deps) handleAddAllow(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIP(w, r)
	if !ok {
		return
	}
	d.RateLimit.AddToAllowlist(ip)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ip": ip})
}

func (d Deps) handleRemoveAllow(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !validIP(ip) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_ip"})
		return
	}
	d.RateLimit.RemoveFromAllowlist(ip)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ip": ip})
}

func (d Deps) handleAddDeny(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIP(w, r)
	if !ok {
		return
	}
	d.RateLimit.AddToDenylist(ip)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ip": ip})
}

func (d Deps) handleRemoveDeny(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !validIP(ip) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_ip"})
		return
	}
	d.RateLimit.RemoveFromDenylist(ip)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ip": ip})
}

func (d Deps) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validIP(req.IP) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_ip"})
		return
	}
	dur := time.Duration(req.Duration) * time.Second
	if dur <= 0 {
		dur = 5 * time.Minute
	}
	d.RateLimit.Block(req.IP, dur)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ip": req.IP, "durationSeconds": int(dur.Seconds())})
}

func (d Deps) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIP(w, r)
	if !ok {
		return
	}
	d.RateLimit.Unblock(ip)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ip": ip})
}

func (d Deps) handleBlockedStatus(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !validIP(ip) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_ip"})
		return
	}
	stats := d.RateLimit.StatsFor(ip)
	writeJSON(w, http.StatusOK, map[string]any{
		"ip":            ip,
		"blocked":       stats.Blocked,
		"blockedUntil":  stats.BlockedUntil,
		"totalRequests": stats.TotalRequests,
		"totalBlocks":   stats.TotalBlocks,
	})
}

func (d Deps) handleConfig(w http.ResponseWriter, r *http.Request) {
	allow, deny := d.RateLimit.ListSizes()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   d.Version,
		"allowSize": allow,
		"denySize":  deny,
		"uptime":    time.Since(d.StartedAt).String(),
	})
}

func (d Deps) handleStats(w http.ResponseWriter, r *http.Request) {
	g := d.RateLimit.GlobalStats()
	targets := 0
	if d.Forwarder != nil {
		targets = len(d.Forwarder.Targets())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rateLimit": map[string]any{
			"trackedKeys":   g.Keys,
			"totalRequests": g.TotalRequests,
			"totalBlocks":   g.TotalBlocks,
			"currentBlocked": g.CurrentBlocked,
		},
		"upstreamTargets": targets,
		"uptime":          time.Since(d.StartedAt).String(),
	})
}

// handleSSL reports whether TLS termination is handled upstream of this
// process (spec's Non-goals exclude gatewarden terminating TLS itself; this
// endpoint just reports that policy so operators don't have to guess).
func (d Deps) handleSSL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"terminatesTLS": false,
		"note":          "TLS termination is expected to happen upstream (load balancer or ingress)",
	})
}

func decodeIP(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validIP(req.IP) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_ip"})
		return "", false
	}
	return req.IP, true
}

// validIP accepts dotted-quad IPv4 and colon-separated IPv6 addresses; it
// rejects anything else (hostnames, CIDR ranges) since spec section 6 scopes
// these endpoints to single addresses.
func validIP(s string) bool {
	return net.ParseIP(s) != nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
