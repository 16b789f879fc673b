package metaform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RetryCaller retries failed calls with exponential backoff. Cancellation of
// ctx is never retried and interrupts the backoff sleep.
func RetryCaller(next ModelCaller, max int, backoff time.Duration, log *slog.Logger) ModelCaller {
	if log == nil {
		log = slog.Default()
	}
	return CallerFunc(func(ctx context.Context, model, prompt string) (string, error) {
		var out string
		err := retryable(ctx, func(ctx context.Context) error {
			var err error
			out, err = next.Call(ctx, model, prompt)
			return err
		}, max, backoff, log)
		return out, err
	})
}

// retryable executes a function with exponential backoff retry logic
func retryable(ctx context.Context, call func(context.Context) error, max int, backoff time.Duration, log *slog.Logger) error {
	if max <= 0 {
		return call(ctx) // no retry
	}

	delay := backoff
	for i := 0; ; i++ {
		err := call(ctx)
		if err == nil {
			if i > 0 {
				log.Debug("Attempt succeeded", "attempt", i+1)
			}
			return nil
		}
		if i == max || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Debug("Final attempt failed", "attempt", i+1, "error", err)
			return err
		}
		log.Debug("Attempt failed, retrying", "attempt", i+1, "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// RateLimiter throttles model calls per model name.
type RateLimiter struct {
	next     ModelCaller
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perSec   rate.Limit
	burst    int
}

// NewRateLimiter wraps next with a token bucket of requestsPerSecond and
// burst for every model it sees.
func NewRateLimiter(next ModelCaller, requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		next:     next,
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Call waits for clearance, then forwards the call.
func (l *RateLimiter) Call(ctx context.Context, model, prompt string) (string, error) {
	if err := l.limiter(model).Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Call(ctx, model, prompt)
}

func (l *RateLimiter) limiter(model string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[model]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[model]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.perSec, l.burst)
	l.limiters[model] = limiter
	return limiter
}

// CachedCaller memoizes successful responses by model and prompt. Identical
// prompts are byte-identical, so a repeated request is served from memory.
type CachedCaller struct {
	next  ModelCaller
	cache *gocache.Cache
}

// NewCachedCaller creates an in-memory response cache in front of next.
func NewCachedCaller(next ModelCaller, ttl, cleanupInterval time.Duration) *CachedCaller {
	return &CachedCaller{next: next, cache: gocache.New(ttl, cleanupInterval)}
}

func (c *CachedCaller) Call(ctx context.Context, model, prompt string) (string, error) {
	key := cacheKey(model, prompt)
	if v, found := c.cache.Get(key); found {
		return v.(string), nil
	}
	out, err := c.next.Call(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, out)
	return out, nil
}

// Len returns the number of cached responses.
func (c *CachedCaller) Len() int { return c.cache.ItemCount() }

func cacheKey(model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
