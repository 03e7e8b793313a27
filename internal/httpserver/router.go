// Package httpserver assembles the Chi router: built-in routes (/health,
// /ready, /metrics), the admin mount, and the request-admission pipeline in
// front of the forwarder — the wiring the teacher's router.go did for its
// single reverse proxy, generalized to the full stage sequence spec section
// 2 describes.
package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewarden/gatewarden/internal/admin"
	"github.com/gatewarden/gatewarden/internal/forwarder"
	"github.com/gatewarden/gatewarden/internal/pipeline"
	"github.com/gatewarden/gatewarden/pkg/metrics"
)

// Deps are every engine the router wires into the pipeline and the built-in
// routes.
type Deps struct {
	Pipeline  pipeline.Config
	Forwarder *forwarder.Forwarder
	Admin     admin.Deps
}

// NewRouter builds the full Chi router (spec section 2's pipeline plus the
// built-in and admin routes of section 6).
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Panic recovery comes from chi; RemoteAddr is left as the socket peer so
	// the ClientKey stage alone decides, per trust_proxy, whether forwarding
	// headers are honored. pipeline.RequestID stamps the reqctx-visible
	// request ID that stages downstream consult.
	r.Use(chimw.Recoverer)
	r.Use(pipeline.RequestID(d.Pipeline))
	r.Use(pipeline.ClientKey(d.Pipeline))
	r.Use(pipeline.SecurityHeaders(d.Pipeline))
	r.Use(pipeline.AccessLog(d.Pipeline))

	// Built-in routes bypass stages (3)-(5) (bot score, rate limit,
	// reputation) but still receive request-ID stamping and security
	// headers, applied above.
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(d.Forwarder))
	r.Handle("/metrics", promhttp.Handler())

	admin.Mount(r, d.Admin)

	// Everything else traverses the full pipeline before reaching the
	// forwarder (spec section 2, stages 3-5 then 8).
	r.Group(func(g chi.Router) {
		g.Use(pipeline.BotScore(d.Pipeline))
		g.Use(pipeline.RateLimit(d.Pipeline))
		g.Use(pipeline.Reputation(d.Pipeline))
		g.Handle("/*", d.Forwarder)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	if IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "draining",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports 200 iff the target pool is non-empty, per spec
// section 6.
func handleReady(f *forwarder.Forwarder) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		targets := f.Targets()
		status := http.StatusOK
		if len(targets) == 0 {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"ready":     len(targets) > 0,
			"upstreams": len(targets),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	metrics.RegisterBotScoreMetrics(prometheus.DefaultRegisterer)
	metrics.RegisterRateLimitMetrics(prometheus.DefaultRegisterer)
	metrics.RegisterReputationMetrics(prometheus.DefaultRegisterer)
	metrics.RegisterForwarderMetrics(prometheus.DefaultRegisterer)
}
