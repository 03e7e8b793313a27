package forwarder

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/reqctx"
	"github.com/rs/zerolog/log"
)

// hopByHopHeaders are stripped from both the outbound request and the
// inbound response, per RFC 7230 section 6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Config configures a Forwarder.
type Config struct {
	StealthMode bool
	ProxyID     string
	// Deadline bounds a single forward end-to-end (spec section 5, default
	// 30s). Zero uses the 30s default.
	Deadline time.Duration
	// StaticHeaders are added to every outbound request (spec section 4.5).
	StaticHeaders map[string]string
}

// Forwarder load-balances across a discovered target pool and forwards
// requests via httputil.ReverseProxy, the same building block the teacher's
// MakeReverseProxy used for its single static backend.
type Forwarder struct {
	cfg  Config
	pool *pool
	rp   *httputil.ReverseProxy
}

// New constructs a Forwarder with an empty target pool; call UpdateTargets
// once discovery produces its first scan.
func New(cfg Config) *Forwarder {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	f := &Forwarder{cfg: cfg, pool: newPool()}

	rp := &httputil.ReverseProxy{
		Director:       f.director,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.errorHandler,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
		},
	}
	f.rp = rp
	return f
}

// UpdateTargets atomically replaces the pool contents (spec's
// update_targets operation, invoked by the discovery loop).
func (f *Forwarder) UpdateTargets(targets []Target) {
	f.pool.Update(targets)
}

// Targets returns a snapshot of the currently routable upstreams.
func (f *Forwarder) Targets() []Target {
	return f.pool.Snapshot()
}

type selectedTargetKey struct{}

func (f *Forwarder) director(req *http.Request) {
	start := time.Now()
	req = req.WithContext(context.WithValue(req.Context(), selectedTargetKey{}, start))

	target, ok := f.pool.Next()
	if !ok {
		// no targets; director must still produce a well-formed URL so the
		// transport fails cleanly and errorHandler reports it as 502 with
		// the "No upstream configured" message.
		req.URL.Scheme = "http"
		req.URL.Host = "gatewarden-no-upstream.invalid"
		return
	}

	u, err := url.Parse(target.URL)
	if err != nil {
		req.URL.Scheme = "http"
		req.URL.Host = "gatewarden-bad-target.invalid"
		return
	}

	for _, h := range hopByHopHeaders {
		req.Header.Del(h)
	}

	origProto := "http"
	if req.TLS != nil {
		origProto = "https"
	}
	if v := req.Header.Get("X-Forwarded-Proto"); v != "" {
		origProto = v
	}
	origHost := req.Host

	clientKey := reqctx.ClientKey(req.Context())
	if clientKey == "" {
		clientKey = reqctx.ExtractKey(true, req.Header.Get("X-Forwarded-For"), req.Header.Get("X-Real-IP"), req.RemoteAddr)
	}

	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	req.Host = u.Host

	if xff := req.Header.Get("X-Forwarded-For"); xff == "" {
		req.Header.Set("X-Forwarded-For", clientKey)
	} else {
		req.Header.Set("X-Forwarded-For", xff+", "+clientKey)
	}
	req.Header.Set("X-Forwarded-Host", origHost)
	req.Header.Set("X-Forwarded-Proto", origProto)

	for k, v := range f.cfg.StaticHeaders {
		req.Header.Set(k, v)
	}
}

func (f *Forwarder) modifyResponse(resp *http.Response) error {
	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}

	if start, ok := resp.Request.Context().Value(selectedTargetKey{}).(time.Time); ok {
		resp.Header.Set("X-Response-Time", time.Since(start).String())
	}
	if !f.cfg.StealthMode {
		if id := f.cfg.ProxyID; id != "" {
			resp.Header.Set("X-Proxy-Id", id)
		}
	} else {
		resp.Header.Del("X-Proxy-Id")
		resp.Header.Del("Server")
	}
	return nil
}

// errorHandler classifies transport failures per spec section 4.5: an empty
// pool and a plain connection failure both map to 502 (bad gateway, with
// distinct messages), while a deadline exceeded maps to 504 (gateway
// timeout). Bodies match spec section 6/8's literal shape exactly.
func (f *Forwarder) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	log.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream forward failed")

	status := http.StatusBadGateway
	errLabel := "Bad Gateway"
	message := "Upstream connection failed"

	switch {
	case f.pool.Size() == 0:
		message = "No upstream configured"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		errLabel = "Gateway Timeout"
		message = "Upstream request timed out"
	case isConnectionError(err):
		// defaults above already cover this case
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + errLabel + `","message":"` + message + `"}` + "\n"))
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset")
}

// ServeHTTP implements http.Handler, bounding the whole forward (dial,
// request, response headers, and body streaming) by the configured deadline
// (spec section 5: upstream forwards honor a configurable total deadline,
// default 30s, and the in-flight request is aborted and released on expiry).
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), f.cfg.Deadline)
	defer cancel()
	f.rp.ServeHTTP(w, r.WithContext(ctx))
}

// Probe issues a bounded health check against target (spec section 4.5's
// discovery health probe: GET /health with a 5s deadline).
func Probe(ctx context.Context, client *http.Client, target Target) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(target.URL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
