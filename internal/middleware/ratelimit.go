package middleware

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/time/rate"
)

// AccountHeader identifies the calling account for per-account limits.
const AccountHeader = "X-Account-Address"

// RateLimitConfig defines the limit for a specific route or group.
type RateLimitConfig struct {
	Max    int                      // Maximum requests allowed in the window
	Window time.Duration            // Time window for the limit
	KeyFn  func(c fiber.Ctx) string // Returns the key to rate limit on (IP, account, etc.)
}

// entry is the token bucket of a single key.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. Each bucket holds Max tokens
// and refills at Max per Window.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  RateLimitConfig
	every   rate.Limit
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		every:   rate.Every(cfg.Window / time.Duration(cfg.Max)),
	}
	// Background cleanup every 5 minutes
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) bucket(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.every, rl.config.Max)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Handler returns a Fiber middleware handler that enforces the rate limit.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		now := time.Now()
		lim := rl.bucket(rl.config.KeyFn(c), now)

		allowed := lim.AllowN(now, 1)
		tokens := lim.TokensAt(now)
		setRateLimitHeaders(c, rl.config.Max, int(math.Floor(tokens)), now.Add(rl.untilFull(tokens)))

		if !allowed {
			retryAfter := int(math.Ceil(rl.untilTokens(tokens, 1).Seconds()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":       "RATE_LIMITED",
					"message":    fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
					"retryAfter": retryAfter,
				},
			})
		}

		return c.Next()
	}
}

// Allow checks if a request with the given key is allowed (for testing).
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	return rl.bucket(key, now).AllowN(now, 1)
}

// untilTokens is how long the bucket needs to refill from have to want tokens.
func (rl *RateLimiter) untilTokens(have, want float64) time.Duration {
	if have >= want {
		return 0
	}
	return time.Duration((want - have) / float64(rl.every) * float64(time.Second))
}

func (rl *RateLimiter) untilFull(have float64) time.Duration {
	return rl.untilTokens(have, float64(rl.config.Max))
}

func setRateLimitHeaders(c fiber.Ctx, limit, remaining int, resetAt time.Time) {
	c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

// cleanup drops buckets idle for a full window; they would be full again.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, e := range rl.entries {
			if now.Sub(e.lastSeen) > rl.config.Window {
				delete(rl.entries, key)
			}
		}
		rl.mu.Unlock()
	}
}

// KeyByIP returns the client IP as the rate limit key.
func KeyByIP(c fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByAccount limits on the X-Account-Address header.
// Falls back to IP if no address is available.
func KeyByAccount(c fiber.Ctx) string {
	if addr := c.Get(AccountHeader); addr != "" {
		return "account:" + addr
	}
	return "ip:" + c.IP()
}

// --- Pre-configured rate limiters matching the API contract ---

// NewReadRateLimiter: 100 req/min per IP
func NewReadRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    100,
		Window: time.Minute,
		KeyFn:  KeyByIP,
	})
}

// NewClaimSubmitRateLimiter: 5 req/min per account
func NewClaimSubmitRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    5,
		Window: time.Minute,
		KeyFn:  KeyByAccount,
	})
}

// NewVoteRateLimiter: 10 req/min per account
func NewVoteRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    10,
		Window: time.Minute,
		KeyFn:  KeyByAccount,
	})
}

// NewBetRateLimiter: 20 req/min per account
func NewBetRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    20,
		Window: time.Minute,
		KeyFn:  KeyByAccount,
	})
}

// NewAdminRateLimiter: 10 req/min per IP
func NewAdminRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{
		Max:    10,
		Window: time.Minute,
		KeyFn:  KeyByIP,
	})
}
