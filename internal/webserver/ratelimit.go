package webserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerLimiter keeps one token bucket per caller identity.
type callerLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	config    RateLimitConfig
	lastPrune time.Time
}

func newCallerLimiter(config RateLimitConfig) *callerLimiter {
	return &callerLimiter{
		limiters:  make(map[string]*limiterEntry),
		config:    config,
		lastPrune: time.Now(),
	}
}

// Allow reports whether caller may perform one more request now.
func (l *callerLimiter) Allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for key, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastPrune = now
	}

	entry, ok := l.limiters[caller]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.config.Rate, l.config.Burst)}
		l.limiters[caller] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}
