// Package reqctx carries the per-request fields the pipeline stamps onto a
// request as it traverses stages: the request ID, the resolved ClientKey,
// and whether a downstream stage has already committed a response.
package reqctx

import (
	"context"
	"net"
	"strings"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyClientKey
	keyCommitted
)

// WithRequestID stamps the request ID stage (1) result onto the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the stamped request ID, or "" if stage 1 never ran.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}

// WithClientKey stamps the ClientKey the rate-limit coordinator resolved for
// this request, so later stages (the bot scorer's pattern tracker, the
// forwarder and the access log) reuse the same value instead of re-deriving
// it from headers.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyClientKey, key)
}

// ClientKey returns the stamped ClientKey, or "" if no stage has resolved one
// yet.
func ClientKey(ctx context.Context) string {
	v, _ := ctx.Value(keyClientKey).(string)
	return v
}

// committedFlag is stored by pointer so stages sharing the same context.Context value
// (not a copy) observe writes made by an earlier stage.
type committedFlag struct{ v bool }

// WithCommitFlag installs a fresh "response already committed" flag at the
// start of the pipeline.
func WithCommitFlag(ctx context.Context) (context.Context, *committedFlag) {
	f := &committedFlag{}
	return context.WithValue(ctx, keyCommitted, f), f
}

// MarkCommitted flips the flag a terminating stage installs; later stages
// must not execute once this is true.
func MarkCommitted(ctx context.Context) {
	if f, ok := ctx.Value(keyCommitted).(*committedFlag); ok {
		f.v = true
	}
}

// Committed reports whether a prior stage already wrote a response.
func Committed(ctx context.Context) bool {
	f, ok := ctx.Value(keyCommitted).(*committedFlag)
	return ok && f.v
}

// ExtractKey derives the ClientKey for a request per spec section 3: the
// first entry of the forwarded-for chain (or the real-ip header) when
// trustProxy is set and present, otherwise the socket peer address.
// "unknown" is returned (not empty string) when neither is available, since
// it is a valid sentinel tracked like any other key.
func ExtractKey(trustProxy bool, xff, realIP, remoteAddr string) string {
	if trustProxy {
		if xff != "" {
			parts := strings.Split(xff, ",")
			if first := strings.TrimSpace(parts[0]); first != "" {
				return first
			}
		}
		if realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	if remoteAddr != "" {
		return remoteAddr
	}
	return "unknown"
}

// MaskKey applies spec section 7's refusal-logging policy: IPv4 keeps its
// first two octets, IPv6 its first two colon-groups; anything else
// (API keys, "unknown") is returned unmodified since it isn't an address.
func MaskKey(key string) string {
	if ip := net.ParseIP(key); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return strings.Join(strings.SplitN(key, ".", 3)[:2], ".") + ".x.x"
		}
		groups := strings.Split(key, ":")
		if len(groups) >= 2 {
			return groups[0] + ":" + groups[1] + ":x:x"
		}
	}
	return key
}
