package reputation

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// quota tracks the daily external-lookup call budget (spec section 4.4,
// step 5, and the midnight reset described later in the same section). When
// a Redis client is configured, the counter is mirrored there with an INCR
// so a fleet of gateway replicas shares one provider-side budget instead of
// each process burning its own quota independently; a nil or unreachable
// Redis client degrades to the local-only counter without affecting
// correctness for a single process.
type quota struct {
	mu         sync.Mutex
	limit      int
	count      int
	resetAt    time.Time
	rdb        *redis.Client
	keyPrefix  string
}

func newQuota(limit int, rdb *redis.Client) *quota {
	return &quota{
		limit:     limit,
		resetAt:   nextMidnight(time.Now()),
		rdb:       rdb,
		keyPrefix: "gatewarden:reputation:quota:",
	}
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// restore re-applies a persisted reset instant on startup, per spec section
// 4.4: "if a persisted reset instant is still in the future, the engine
// restores the counter and reset instant."
func (q *quota) restore(count int, resetAt time.Time, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if resetAt.After(now) {
		q.count = count
		q.resetAt = resetAt
	}
}

// rolloverLocked resets the counter when local midnight has passed.
func (q *quota) rolloverLocked(now time.Time) {
	for !now.Before(q.resetAt) {
		q.count = 0
		q.resetAt = q.resetAt.AddDate(0, 0, 1)
	}
}

// tryConsume reports whether a call may be issued, incrementing the counter
// if so. The Redis mirror is best-effort: a Redis error never blocks the
// local decision.
func (q *quota) tryConsume(ctx context.Context, now time.Time) bool {
	q.mu.Lock()
	q.rolloverLocked(now)
	if q.count >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.count++
	snapshotCount := q.count
	q.mu.Unlock()

	if q.rdb != nil {
		key := q.keyPrefix + now.Format("2006-01-02")
		n, err := q.rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Debug().Err(err).Msg("reputation quota redis mirror unavailable")
			return true
		}
		_ = q.rdb.Expire(ctx, key, 48*time.Hour).Err()
		if int(n) > q.limit && int(n) > snapshotCount {
			// Another replica's view is ahead of ours; honor the shared budget.
			return false
		}
	}
	return true
}

func (q *quota) snapshot() (count int, resetAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count, q.resetAt
}
