package security

import (
	"context"
	"time"
)

const (
	RateLimitWindow = 15 * time.Minute

	AuthRateLimit = 5
	APIRateLimit  = 100

	AuthRateLimitMessage = "Too many authentication attempts, please try again later."
	APIRateLimitMessage  = "Too many requests from this IP, please try again later."
)

// RateResult describes the state of a client's window after a hit.
type RateResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter is a fixed-window request counter keyed by client. Counts reset
// when the window that started with the client's first hit elapses.
type Limiter struct {
	store   Store
	name    string
	limit   int64
	window  time.Duration
	message string
	now     func() time.Time
}

type LimiterOption func(*Limiter)

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter allows limit hits per window for each key. name keeps counters
// of different limiters apart in a shared store.
func NewLimiter(store Store, name string, limit int, window time.Duration, message string, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:   store,
		name:    name,
		limit:   int64(limit),
		window:  window,
		message: message,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewAuthLimiter allows 5 authentication attempts per 15 minutes.
func NewAuthLimiter(store Store, opts ...LimiterOption) *Limiter {
	return NewLimiter(store, "auth", AuthRateLimit, RateLimitWindow, AuthRateLimitMessage, opts...)
}

// NewAPILimiter allows 100 API requests per 15 minutes.
func NewAPILimiter(store Store, opts ...LimiterOption) *Limiter {
	return NewLimiter(store, "api", APIRateLimit, RateLimitWindow, APIRateLimitMessage, opts...)
}

// Allow records a hit for key.
func (l *Limiter) Allow(ctx context.Context, key string) (RateResult, error) {
	n, resetAt, err := l.store.Incr(ctx, l.prefix()+key, l.window, l.now())
	if err != nil {
		return RateResult{}, err
	}
	rem := l.limit - n
	if rem < 0 {
		rem = 0
	}
	return RateResult{
		Allowed:   n <= l.limit,
		Limit:     l.limit,
		Remaining: rem,
		ResetAt:   resetAt,
	}, nil
}

// Cleanup drops counters whose window has elapsed.
func (l *Limiter) Cleanup(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.prefix(), l.now())
}

func (l *Limiter) prefix() string { return prefixRateLimit + l.name + ":" }

// Message is the fixed rejection text.
func (l *Limiter) Message() string { return l.message }

// Name identifies the limiter in logs.
func (l *Limiter) Name() string { return l.name }

// Now returns the limiter's clock reading.
func (l *Limiter) Now() time.Time { return l.now() }
