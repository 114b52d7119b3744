package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures rate limiting for LLM providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// TokensPerMinute limits total tokens per minute (0 = unlimited)
	TokensPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for hosted vision models.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 25,
		TokensPerMinute:   25000,
		BurstSize:         3,
	}
}

// RateLimitProvider paces requests with a token bucket and caps token use per minute window.
type RateLimitProvider struct {
	inner   Provider
	config  *RateLimitConfig
	limiter *rate.Limiter

	mu               sync.Mutex
	requestsInWindow int
	tokensInWindow   int
	windowStart      time.Time
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}

	return &RateLimitProvider{
		inner:       inner,
		config:      config,
		limiter:     rate.NewLimiter(limit, burst),
		windowStart: time.Now(),
	}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete rate-limits and delegates to the inner provider.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}

	resp, err := r.inner.Complete(ctx, prompt, opts)
	if err == nil && resp != nil {
		r.trackTokenUsage(resp.InputTokens + resp.OutputTokens)
	}
	return resp, err
}

// Embed rate-limits and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// waitForCapacity blocks until both the request bucket and the token window allow a call.
func (r *RateLimitProvider) waitForCapacity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		wait := r.tokenWait()
		if wait == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	r.mu.Lock()
	r.requestsInWindow++
	r.mu.Unlock()
	return nil
}

// tokenWait returns how long until the token window has budget again, or 0.
func (r *RateLimitProvider) tokenWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollWindow(time.Now())
	if r.config.TokensPerMinute == 0 || r.tokensInWindow < r.config.TokensPerMinute {
		return 0
	}
	return time.Minute - time.Since(r.windowStart)
}

func (r *RateLimitProvider) rollWindow(now time.Time) {
	if now.Sub(r.windowStart) >= time.Minute {
		r.windowStart = now
		r.requestsInWindow = 0
		r.tokensInWindow = 0
	}
}

// trackTokenUsage records token consumption.
func (r *RateLimitProvider) trackTokenUsage(tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokensInWindow += tokens
}

// Stats returns current rate limiting statistics.
func (r *RateLimitProvider) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := 0
	if r.config.TokensPerMinute > 0 {
		remaining = max(r.config.TokensPerMinute-r.tokensInWindow, 0)
	}
	return RateLimitStats{
		RequestsInWindow:  r.requestsInWindow,
		TokensInWindow:    r.tokensInWindow,
		RemainingRequests: int(r.limiter.Tokens()),
		RemainingTokens:   remaining,
		WindowStart:       r.windowStart,
	}
}

// RateLimitStats contains rate limiting statistics.
type RateLimitStats struct {
	RequestsInWindow  int
	TokensInWindow    int
	RemainingRequests int
	RemainingTokens   int
	WindowStart       time.Time
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}
