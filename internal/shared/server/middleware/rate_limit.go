package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/server/respond"
	"analyzer-backend/internal/shared/telemetry"
)

// maxBuckets triggers a sweep of idle buckets.
const maxBuckets = 10000

// Quota is a token bucket: Burst requests at once, refilled at PerSecond.
type Quota struct {
	PerSecond float64
	Burst     int
}

func (q Quota) unlimited() bool {
	return q.PerSecond <= 0 || q.Burst <= 0
}

// refillTime is how long an empty bucket takes to fill up again.
func (q Quota) refillTime() time.Duration {
	return time.Duration(float64(q.Burst) / q.PerSecond * float64(time.Second))
}

// ThrottleOptions selects a quota per route. Classify returning "" or a
// group without a quota leaves the request unthrottled.
type ThrottleOptions struct {
	Quotas   map[string]Quota
	Classify func(*gin.Context) string
	Throttle *Throttle
}

type bucketKey struct {
	caller string
	group  string
}

type bucket struct {
	tokens float64
	seen   time.Time
	quota  Quota
}

// Throttle keeps one bucket per caller and route group.
type Throttle struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

func NewThrottle(now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{buckets: make(map[bucketKey]*bucket), now: now}
}

// Throttled rejects callers that spent their quota with 429 and Retry-After.
func Throttled(opts ThrottleOptions) gin.HandlerFunc {
	if opts.Throttle == nil {
		opts.Throttle = NewThrottle(nil)
	}
	return func(c *gin.Context) {
		var group string
		if opts.Classify != nil {
			group = strings.TrimSpace(opts.Classify(c))
		}
		quota, ok := opts.Quotas[group]
		if group == "" || !ok {
			c.Next()
			return
		}

		key := bucketKey{caller: callerKey(c), group: group}
		wait, allowed := opts.Throttle.Take(key, quota)
		if allowed {
			c.Next()
			return
		}

		waitMs := max(wait.Milliseconds(), 1)
		c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(float64(waitMs)/1000)), 10))
		telemetry.Warn("http.throttled", map[string]any{
			"request_id": RequestIDFromContext(c),
			"caller":     key.caller,
			"group":      group,
			"wait_ms":    waitMs,
		})
		respond.Error(c, http.StatusTooManyRequests, respond.CodeRateLimited, "rate limited", gin.H{
			"retryAfterMs": waitMs,
		})
	}
}

// callerKey prefers the authenticated owner and falls back to the client IP.
func callerKey(c *gin.Context) string {
	if ownerID, ok := OwnerIDFromContext(c); ok {
		return "owner:" + strconv.FormatInt(ownerID, 10)
	}
	return "ip:" + c.ClientIP()
}

// Take spends one token from key's bucket. When none is left it reports how
// long until the next one.
func (t *Throttle) Take(key bucketKey, q Quota) (time.Duration, bool) {
	if t == nil || q.unlimited() {
		return 0, true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		if len(t.buckets) >= maxBuckets {
			t.sweep(now)
		}
		b = &bucket{tokens: float64(q.Burst), seen: now}
		t.buckets[key] = b
	}
	b.quota = q
	if elapsed := now.Sub(b.seen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(q.Burst), b.tokens+elapsed*q.PerSecond)
		b.seen = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	wait := (1 - b.tokens) / q.PerSecond
	return time.Duration(math.Ceil(wait*1000)) * time.Millisecond, false
}

// sweep drops buckets that have been idle long enough to be full again.
func (t *Throttle) sweep(now time.Time) {
	for key, b := range t.buckets {
		if now.Sub(b.seen) >= b.quota.refillTime() {
			delete(t.buckets, key)
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
