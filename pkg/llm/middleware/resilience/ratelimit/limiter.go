// Package ratelimit provides per-provider token and concurrency limiting for LLM clients.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/d-lowl/cblit/pkg/config"
	"github.com/d-lowl/cblit/pkg/llm"
	"github.com/d-lowl/cblit/pkg/utils"
)

// BufferFactor keeps the bucket below the advertised per-minute quota to absorb estimation error.
const BufferFactor = 0.9

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Acquire blocks until tokens and a concurrency slot are both available.
	// The returned release function must be called to return the slot.
	Acquire(ctx context.Context, tokens int) (release func(), err error)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	EstimatePrompt(req llm.CompletionRequest) int
}

// CounterEstimator estimates prompt size with a tiktoken counter.
type CounterEstimator struct {
	Counter *utils.TokenCounter
}

// EstimatePrompt sums per-message token estimates.
func (e CounterEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	total := 0
	for i := range req.Messages {
		total += e.Counter.CountMessage(string(req.Messages[i].Role), req.Messages[i].Content)
	}
	return total
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Provider        string  `json:"provider"`
	AvailableTokens float64 `json:"available_tokens"`
	MaxCapacity     int     `json:"max_capacity"`
	ActiveRequests  int64   `json:"active_requests"`
	MaxConcurrency  int     `json:"max_concurrency"`
	TokenLimitHits  int64   `json:"token_limit_hits"`
	ConcurrencyHits int64   `json:"concurrency_hits"`
}

// TokenBucketLimiter combines a token bucket refilled continuously at the
// per-minute rate with a weighted semaphore bounding concurrent requests.
type TokenBucketLimiter struct {
	provider       string
	bucket         *rate.Limiter
	slots          *semaphore.Weighted
	maxCapacity    int
	maxConcurrency int

	active          atomic.Int64
	tokenLimitHits  atomic.Int64
	concurrencyHits atomic.Int64
}

// NewTokenBucketLimiter creates a limiter for a provider. Zero limits disable the respective check.
func NewTokenBucketLimiter(provider string, limits config.ProviderLimits) *TokenBucketLimiter {
	l := &TokenBucketLimiter{provider: provider, maxConcurrency: limits.MaxConcurrency}

	if limits.TokensPerMinute > 0 {
		l.maxCapacity = int(float64(limits.TokensPerMinute) * BufferFactor)
		perSecond := rate.Limit(float64(limits.TokensPerMinute) / 60.0)
		l.bucket = rate.NewLimiter(perSecond, l.maxCapacity)
	}
	if limits.MaxConcurrency > 0 {
		l.slots = semaphore.NewWeighted(int64(limits.MaxConcurrency))
	}
	return l
}

// Acquire reserves tokens then a concurrency slot. Requests larger than the bucket
// are clamped to its capacity so they wait for a full bucket instead of failing.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, tokens int) (func(), error) {
	if l.bucket != nil && tokens > 0 {
		if tokens > l.maxCapacity {
			tokens = l.maxCapacity
		}
		if !l.bucket.AllowN(time.Now(), tokens) {
			l.tokenLimitHits.Add(1)
			if err := l.bucket.WaitN(ctx, tokens); err != nil {
				return nil, fmt.Errorf("waiting for %d tokens on %s: %w", tokens, l.provider, err)
			}
		}
	}

	if l.slots != nil {
		if !l.slots.TryAcquire(1) {
			l.concurrencyHits.Add(1)
			if err := l.slots.Acquire(ctx, 1); err != nil {
				return nil, fmt.Errorf("waiting for %s concurrency slot: %w", l.provider, err)
			}
		}
	}

	l.active.Add(1)
	var released atomic.Bool
	return func() {
		if released.Swap(true) {
			return
		}
		l.active.Add(-1)
		if l.slots != nil {
			l.slots.Release(1)
		}
	}, nil
}

// GetStats returns current limiter statistics.
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	stats := LimiterStats{
		Provider:        l.provider,
		MaxCapacity:     l.maxCapacity,
		ActiveRequests:  l.active.Load(),
		MaxConcurrency:  l.maxConcurrency,
		TokenLimitHits:  l.tokenLimitHits.Load(),
		ConcurrencyHits: l.concurrencyHits.Load(),
	}
	if l.bucket != nil {
		stats.AvailableTokens = l.bucket.Tokens()
	}
	return stats
}

// ProviderLimiterMap manages rate limiters for different API providers.
type ProviderLimiterMap struct {
	limiters map[string]*TokenBucketLimiter
}

// NewProviderLimiterMap builds one limiter per provider from the configured limits.
func NewProviderLimiterMap(cfg config.RateLimitConfig) *ProviderLimiterMap {
	limiters := make(map[string]*TokenBucketLimiter)
	for _, provider := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama} {
		limiters[provider] = NewTokenBucketLimiter(provider, cfg.For(provider))
	}
	return &ProviderLimiterMap{limiters: limiters}
}

// GetLimiter returns the rate limiter for a specific model.
func (p *ProviderLimiterMap) GetLimiter(modelName string) (Limiter, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("cannot determine provider for model %s: %w", modelName, err)
	}

	limiter, exists := p.limiters[provider]
	if !exists {
		return nil, fmt.Errorf("no rate limiter configured for provider %s", provider)
	}
	return limiter, nil
}

// GetAllStats returns statistics for all provider limiters.
func (p *ProviderLimiterMap) GetAllStats() map[string]LimiterStats {
	stats := make(map[string]LimiterStats, len(p.limiters))
	for provider, limiter := range p.limiters {
		stats[provider] = limiter.GetStats()
	}
	return stats
}
