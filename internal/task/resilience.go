package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the circuit breakers handed out by a BreakerRegistry.
type BreakerConfig struct {
	MaxRequests         uint32        // Probe requests allowed while half-open
	Timeout             time.Duration // Time spent open before probing
	ConsecutiveFailures uint32        // Failures in a row that trip the breaker
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// BreakerRegistry hands out one circuit breaker per name, so operations that
// talk to the same collaborator share failure accounting.
type BreakerRegistry struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry. A nil logger discards state changes.
func NewBreakerRegistry(cfg BreakerConfig, logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.MaxRequests,
		Timeout:     r.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the collaborator's health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[name] = cb
	return cb
}

// runResilient runs fn through an optional circuit breaker, retrying with
// exponential backoff when retryCfg is set.
func runResilient(ctx context.Context, fn Func, cb *gobreaker.CircuitBreaker, retryCfg *RetryConfig) (any, error) {
	var result any

	attempt := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		var (
			r   any
			err error
		)
		if cb != nil {
			r, err = cb.Execute(func() (interface{}, error) {
				return fn(ctx)
			})
		} else {
			r, err = fn(ctx)
		}

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		result = r
		return nil
	}

	if retryCfg == nil {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return result, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryCfg.InitialInterval
	policy.MaxInterval = retryCfg.MaxInterval
	policy.MaxElapsedTime = retryCfg.MaxElapsedTime
	policy.Multiplier = retryCfg.Multiplier
	policy.RandomizationFactor = retryCfg.RandomizationFactor

	err := backoff.Retry(attempt, backoff.WithContext(policy, ctx))
	return result, err
}
