package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key. Platform clients key by platform
// id, the HTTP API keys by client IP.
type Limiter struct {
	config   Config
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	mu       sync.Mutex
}

// Config contains rate limiting configuration
type Config struct {
	// RequestsPerSecond per key. Zero or negative disables limiting.
	RequestsPerSecond float64

	// BurstSize allows brief bursts above the rate limit
	BurstSize int

	// MinDelay is the minimum spacing between two requests for the same key
	MinDelay time.Duration
}

// DefaultConfig is sized for a self-hosted OpenCTI/OpenAEV instance.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         10,
		MinDelay:          0,
	}
}

func NewLimiter(config Config) *Limiter {
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	return &Limiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		limit := rate.Limit(l.config.RequestsPerSecond)
		if l.config.RequestsPerSecond <= 0 {
			limit = rate.Inf
		}
		lim = rate.NewLimiter(limit, l.config.BurstSize)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until a request for key is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.bucket(key).Wait(ctx); err != nil {
		return err
	}

	if l.config.MinDelay <= 0 {
		l.touch(key)
		return nil
	}

	for {
		l.mu.Lock()
		last, seen := l.lastSeen[key]
		wait := l.config.MinDelay - time.Since(last)
		if !seen || wait <= 0 {
			l.lastSeen[key] = time.Now()
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (l *Limiter) touch(key string) {
	l.mu.Lock()
	l.lastSeen[key] = time.Now()
	l.mu.Unlock()
}

// Allow reports whether a request for key may proceed now, without blocking.
func (l *Limiter) Allow(key string) bool {
	if !l.bucket(key).Allow() {
		return false
	}
	l.touch(key)
	return true
}

// Reset forgets all keys.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
	l.lastSeen = make(map[string]time.Time)
}

// Prune forgets keys not seen for longer than idle and returns how many
// were dropped.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key, last := range l.lastSeen {
		if time.Since(last) > idle {
			delete(l.lastSeen, key)
			delete(l.limiters, key)
			dropped++
		}
	}
	return dropped
}

func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedKeys:  len(l.limiters),
		BurstSize:    l.config.BurstSize,
		RequestDelay: l.config.MinDelay,
	}
}

type Stats struct {
	TrackedKeys  int
	BurstSize    int
	RequestDelay time.Duration
}
