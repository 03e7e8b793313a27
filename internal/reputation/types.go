// Package reputation implements the external IP-reputation lookup engine
// (spec section 4.4): private-range short-circuit, local allow-list, a TTL
// cache, a daily call quota (optionally mirrored to Redis so a fleet of
// replicas shares one external-API budget), an HTTPS provider client, and
// file-backed persistence.
package reputation

import "time"

// Reason explains why a Verdict came out the way it did.
type Reason string

const (
	ReasonPrivateIP   Reason = "private_ip"
	ReasonWhitelisted Reason = "whitelisted"
	ReasonNoAPIKey    Reason = "no_api_key"
	ReasonRateLimited Reason = "rate_limited"
	ReasonAPIError    Reason = "api_error"
	ReasonOK          Reason = "ok"
)

// Verdict is the result of a single Check call.
type Verdict struct {
	Blocked    bool
	Score      int
	Reason     Reason
	Cached     bool
	Reports    int
	Categories []int
	Country    string
	ISP        string
}

// Record is the per-IP cached external verdict (spec section 3).
type Record struct {
	Score       int       `json:"score"`
	Reports     int       `json:"reports"`
	Categories  []int     `json:"categories"`
	Country     string    `json:"country"`
	ISP         string    `json:"isp"`
	LastChecked time.Time `json:"lastChecked"`
}

// expired reports whether a record must be treated as absent per spec
// section 3's invariant.
func (r Record) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastChecked) > ttl
}
