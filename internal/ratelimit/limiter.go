// Package ratelimit provides per-key rate limiting with free and subscribed tiers.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tier selects which limits apply to a key.
type Tier int

const (
	TierFree Tier = iota
	TierSubscribed
)

func (t Tier) String() string {
	if t == TierSubscribed {
		return "subscribed"
	}
	return "free"
}

// Config defines the rate limiting configuration.
type Config struct {
	FreeRPS         float64       // Requests per second for anonymous and unsubscribed keys
	FreeBurst       int           // Burst size for free tier
	SubscribedRPS   float64       // Requests per second for keys with an active plan
	SubscribedBurst int           // Burst size for subscribed tier
	CleanupInterval time.Duration // How often to drop idle limiters
}

// DefaultConfig provides sensible defaults for rate limiting.
var DefaultConfig = Config{
	FreeRPS:         10,
	FreeBurst:       20,
	SubscribedRPS:   100,
	SubscribedBurst: 200,
	CleanupInterval: time.Hour,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
	tier     Tier
}

// RateLimiter holds one token bucket per key.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   Config
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Call Stop when done.
func NewRateLimiter(config Config) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow reports whether one more request for key is within its tier's limit.
func (rl *RateLimiter) Allow(key string, tier Tier) bool {
	return rl.GetLimiter(key, tier).Allow()
}

// GetLimiter returns the limiter for key, creating one if necessary.
// A tier change replaces the limiter with a fresh one at the new limits.
func (rl *RateLimiter) GetLimiter(key string, tier Tier) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if exists && entry.tier == tier {
		entry.lastUsed = rl.now()
		return entry.limiter
	}

	rps, burst := rl.config.FreeRPS, rl.config.FreeBurst
	if tier == TierSubscribed {
		rps, burst = rl.config.SubscribedRPS, rl.config.SubscribedBurst
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	rl.limiters[key] = &limiterEntry{
		limiter:  limiter,
		lastUsed: rl.now(),
		tier:     tier,
	}
	return limiter
}

// Cleanup removes limiters idle for longer than the cleanup interval.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.config.CleanupInterval)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	rl.wg.Wait()
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
