package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// The gateway allows 120 client frames per minute per connection.
	SEND_LIMIT  = 120
	SEND_WINDOW = 60 * time.Second

	PRESENCE_LIMIT  = 5
	PRESENCE_WINDOW = 60 * time.Second
)

// RateLimiter holds a global bucket plus optional per-opcode buckets.
type RateLimiter struct {
	global  *rate.Limiter
	buckets map[Opcode]*rate.Limiter
	mutex   sync.Mutex
}

// NewRateLimiter creates a limiter allowing limit frames per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		global:  rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		buckets: make(map[Opcode]*rate.Limiter),
	}
}

// DefaultRateLimiter returns the gateway's documented limits.
func DefaultRateLimiter() *RateLimiter {
	rl := NewRateLimiter(SEND_LIMIT, SEND_WINDOW)
	rl.SetBucket(OpPresenceUpdate, PRESENCE_LIMIT, PRESENCE_WINDOW)
	return rl
}

// SetBucket adds a tighter limit for one opcode.
func (rl *RateLimiter) SetBucket(op Opcode, limit int, window time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.buckets[op] = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}

// Allow reports whether a frame with op may be sent now and consumes a token
// from every bucket it belongs to.
func (rl *RateLimiter) Allow(op Opcode) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	var reserved []*rate.Reservation

	limiters := []*rate.Limiter{rl.global}
	if bucket, exists := rl.buckets[op]; exists {
		limiters = append(limiters, bucket)
	}

	for _, limiter := range limiters {
		r := limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range reserved {
				prev.CancelAt(now)
			}
			return false
		}
		reserved = append(reserved, r)
	}
	return true
}
