package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket and one daily quota per client.
type RateLimiter struct {
	mu sync.Mutex

	limit rate.Limit
	burst int

	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	limiter       *rate.Limiter
	requestsToday int
	dataToday     int64
	day           time.Time
}

// Usage is a snapshot of one client's daily consumption.
type Usage struct {
	RequestsToday int
	DataToday     int64
}

// NewRateLimiter creates a limiter. A non-positive requestsPerSecond disables
// the token bucket; non-positive quotas disable the daily checks.
func NewRateLimiter(requestsPerSecond float64, burst, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:             limit,
		burst:             burst,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// CheckRateLimit admits or rejects one request of dataSize bytes from clientID.
// Rejected requests consume neither tokens nor quota.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.client(clientID, now)
	if !sameDay(u.day, now) {
		u.requestsToday = 0
		u.dataToday = 0
		u.day = now
	}

	if err := rl.checkDailyQuotas(u, dataSize, now); err != nil {
		return err
	}

	res := u.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return &RateLimitError{Type: "rate", Limit: rl.burst, RetryAfter: delay}
	}

	u.requestsToday++
	u.dataToday += dataSize
	return nil
}

func (rl *RateLimiter) checkDailyQuotas(u *clientUsage, dataSize int64, now time.Time) error {
	resets := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	if rl.maxRequestsPerDay > 0 && u.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(u.requestsToday),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && u.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   u.dataToday,
			Resets: resets,
		}
	}
	return nil
}

func (rl *RateLimiter) client(id string, now time.Time) *clientUsage {
	u, ok := rl.clients[id]
	if !ok {
		u = &clientUsage{limiter: rate.NewLimiter(rl.limit, rl.burst), day: now}
		rl.clients[id] = u
	}
	return u
}

// GetUsage returns the current daily usage for clientID.
func (rl *RateLimiter) GetUsage(clientID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[clientID]; ok {
		return Usage{RequestsToday: u.requestsToday, DataToday: u.dataToday}
	}
	return Usage{}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// RateLimitError reports an exhausted token bucket.
type RateLimitError struct {
	Type       string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (burst: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError reports an exhausted daily quota.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
