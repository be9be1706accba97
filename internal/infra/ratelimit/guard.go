// Package ratelimit throttles reward-bearing actions per user and category.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonview/rewards/internal/domain"
	"github.com/tonview/rewards/internal/infra/observability"
)

// Limit caps how often a single key may perform actions in a category.
type Limit struct {
	PerHour float64
	Burst   int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Guard holds one token-bucket limiter per (category, key) pair. Keys that
// stay idle past maxIdle are evicted on the next lookup sweep.
type Guard struct {
	limits  map[string]Limit
	clock   domain.Clock
	maxIdle time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

const (
	defaultMaxIdle = 2 * time.Hour
	sweepThreshold = 4096
)

func New(limits map[string]Limit, clock domain.Clock) *Guard {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	return &Guard{
		limits:  limits,
		clock:   clock,
		maxIdle: defaultMaxIdle,
		entries: make(map[string]*entry),
	}
}

// Allow reports whether the key may act in the given category now, consuming
// one token if so. Categories without a configured limit are unrestricted.
func (g *Guard) Allow(category, key string) bool {
	limit, ok := g.limits[category]
	if !ok {
		return true
	}
	now := g.clock.Now()
	e := g.obtain(category+":"+key, limit, now)
	if !e.limiter.AllowN(now, 1) {
		observability.ActionsThrottled.WithLabelValues(category).Inc()
		return false
	}
	return true
}

// AllowUser is Allow with an int64 user key.
func (g *Guard) AllowUser(category string, userID int64) bool {
	return g.Allow(category, fmt.Sprintf("%d", userID))
}

// Category returns a single-category view that satisfies domain.Counter.
func (g *Guard) Category(category string) domain.Counter {
	return categoryCounter{guard: g, category: category}
}

type categoryCounter struct {
	guard    *Guard
	category string
}

func (c categoryCounter) Allow(key string) bool {
	return c.guard.Allow(c.category, key)
}

func (g *Guard) obtain(id string, cfg Limit, now time.Time) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[id]; ok {
		e.lastSeen = now
		return e
	}
	if len(g.entries) >= sweepThreshold {
		g.sweepLocked(now)
	}
	perSecond := cfg.PerHour / 3600.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	e := &entry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst), lastSeen: now}
	g.entries[id] = e
	return e
}

func (g *Guard) sweepLocked(now time.Time) {
	for id, e := range g.entries {
		if now.Sub(e.lastSeen) > g.maxIdle {
			delete(g.entries, id)
		}
	}
}
