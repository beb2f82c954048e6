// Package ratelimit implements a per-client token-bucket rate governor.
// Tokens accrue continuously (fractional tokens accumulate between calls)
// rather than at fixed window boundaries, so there is no thundering-herd
// reset at window edges and no background refill goroutine.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pgscope/pgscope/internal/metrics"
)

// Config configures a Governor.
type Config struct {
	// Burst is the bucket capacity: the number of calls a client may issue
	// back-to-back before sustained-rate limiting kicks in. Must be > 0.
	Burst float64

	// Rate is the sustained refill rate in tokens per second. Must be > 0.
	Rate float64

	// IdleTTL evicts buckets for clients idle longer than this, bounding
	// memory. An evicted client starts over with a full bucket on its next
	// call — accumulated debt is intentionally forgotten. 0 disables
	// eviction.
	IdleTTL time.Duration
}

// LimitError is returned when a client has no tokens left. RetryAfter is how
// long the client must wait before one call's worth of tokens has accrued.
type LimitError struct {
	ClientID   string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q: retry after %.1fs", e.ClientID, e.RetryAfter.Seconds())
}

type clientBucket struct {
	tokens     float64
	lastRefill time.Time
}

// Governor tracks one token bucket per client identity. Buckets are created
// lazily on first use and evicted after IdleTTL. All methods are safe for
// concurrent use; token reads and updates for a client are atomic with
// respect to concurrent calls.
type Governor struct {
	cfg Config

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time

	now func() time.Time // injectable for tests
}

// NewGovernor creates a Governor. Panics on invalid config.
func NewGovernor(cfg Config) *Governor {
	if cfg.Burst <= 0 {
		panic("ratelimit: Burst must be > 0")
	}
	if cfg.Rate <= 0 {
		panic("ratelimit: Rate must be > 0")
	}
	if cfg.IdleTTL < 0 {
		panic("ratelimit: IdleTTL must be >= 0")
	}
	return &Governor{
		cfg:     cfg,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Allow consumes one token for clientID, or returns *LimitError.
func (g *Governor) Allow(clientID string) error {
	return g.AllowN(clientID, 1)
}

// AllowN consumes cost tokens for clientID if available. On refusal it
// returns a *LimitError carrying the wait needed for the deficit to accrue;
// no tokens are consumed.
func (g *Governor) AllowN(clientID string, cost float64) error {
	if cost <= 0 {
		panic("ratelimit: cost must be > 0")
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepLocked(now)

	b, ok := g.buckets[clientID]
	if !ok {
		b = &clientBucket{tokens: g.cfg.Burst, lastRefill: now}
		g.buckets[clientID] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = math.Min(g.cfg.Burst, b.tokens+elapsed*g.cfg.Rate)
		b.lastRefill = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return nil
	}

	metrics.RateLimited.Inc()
	wait := (cost - b.tokens) / g.cfg.Rate
	return &LimitError{
		ClientID:   clientID,
		RetryAfter: time.Duration(wait * float64(time.Second)),
	}
}

// sweepLocked drops buckets idle longer than IdleTTL. Runs at most once per
// TTL interval so steady-state calls stay O(1).
func (g *Governor) sweepLocked(now time.Time) {
	if g.cfg.IdleTTL <= 0 || now.Sub(g.lastSweep) < g.cfg.IdleTTL {
		return
	}
	g.lastSweep = now
	for id, b := range g.buckets {
		if now.Sub(b.lastRefill) >= g.cfg.IdleTTL {
			delete(g.buckets, id)
		}
	}
}

// Size returns the number of tracked client buckets.
func (g *Governor) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}
