// Package ratelimit throttles work per key (typically a user id) using a
// token bucket per key.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter holds one token bucket per key. Reserve reports how long
// excess work should be postponed, so it is delayed rather than dropped.
type KeyedLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*entry
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	limit           rate.Limit
	burst           int
	cleanupInterval time.Duration
	idleTTL         time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds limiter configuration.
type Config struct {
	// PerMinute is the sustained number of events allowed per key per minute.
	PerMinute int
	// Burst is the number of events a key may spend at once. Defaults to PerMinute.
	Burst           int
	CleanupInterval time.Duration
	IdleTTL         time.Duration
}

// DefaultConfig allows 10 events per minute per key.
func DefaultConfig() Config {
	return Config{
		PerMinute:       10,
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         10 * time.Minute,
	}
}

func New(config Config) *KeyedLimiter {
	def := DefaultConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = def.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}

	l := &KeyedLimiter{
		limiters:        make(map[string]*entry),
		stopCleanup:     make(chan struct{}),
		limit:           rate.Every(time.Minute / time.Duration(config.PerMinute)),
		burst:           config.Burst,
		cleanupInterval: config.CleanupInterval,
		idleTTL:         config.IdleTTL,
	}
	go l.startCleanup()
	return l
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Reserve takes a token for key if one is available now and returns zero.
// Otherwise it leaves the bucket untouched and returns how long until a
// token will be available, so the caller can come back later instead of
// holding its goroutine.
func (l *KeyedLimiter) Reserve(key string) time.Duration {
	r := l.get(key).Reserve()
	if !r.OK() {
		return time.Minute
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
	}
	return delay
}

// Allow reports whether an event for key may proceed now, consuming a token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *KeyedLimiter) startCleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStaleEntries()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *KeyedLimiter) cleanupStaleEntries() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.idleTTL)
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// ActiveKeys returns the number of currently tracked keys.
func (l *KeyedLimiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop shuts down the cleanup goroutine.
func (l *KeyedLimiter) Stop() {
	l.shutdownOnce.Do(func() {
		close(l.stopCleanup)
	})
}

// Middleware rejects requests whose key has no budget left with 429.
func (l *KeyedLimiter) Middleware(extractKey func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(extractKey(r)) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
