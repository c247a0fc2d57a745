package research

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/deepscout/deepscout/internal/llm"
)

// RetryConfig configures exponential backoff for collaborator calls made
// inside workflow strategies. This is a second, inner layer under the
// scheduler's per-task retry policy: it absorbs transient provider errors
// (rate limits, flaky networks) without burning a task attempt.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default collaborator retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry manages one circuit breaker per collaborator.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// Get returns the breaker for the named collaborator, creating it on first
// use. The breaker trips after 5 consecutive failures and stays open for 30s
// before probing recovery; context cancellation does not count as a failure.
func (r *BreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	r.breakers[name] = cb
	return cb
}

// callWithRetry runs op through the breaker with exponential backoff.
// An open breaker or a cancelled context stops retrying immediately.
func callWithRetry[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, rc RetryConfig, op func() (T, error)) (T, error) {
	var out T

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return op()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		out = result.(T)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = rc.InitialInterval
	policy.MaxInterval = rc.MaxInterval
	policy.MaxElapsedTime = rc.MaxElapsedTime
	policy.Multiplier = rc.Multiplier
	policy.RandomizationFactor = rc.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return out, err
}

// Toolkit bundles the collaborators a workflow strategy needs, with
// resilience applied to every call.
type Toolkit struct {
	search   llm.Searcher
	complete llm.Client
	breakers *BreakerRegistry
	retry    RetryConfig
}

// NewToolkit builds a toolkit around the given collaborators.
func NewToolkit(search llm.Searcher, client llm.Client, logger *slog.Logger) *Toolkit {
	return &Toolkit{
		search:   search,
		complete: client,
		breakers: NewBreakerRegistry(logger),
		retry:    DefaultRetryConfig(),
	}
}

// Search queries the search collaborator through its breaker.
func (tk *Toolkit) Search(ctx context.Context, query string, limit int) ([]llm.SearchResult, error) {
	return callWithRetry(ctx, tk.breakers.Get("search"), tk.retry, func() ([]llm.SearchResult, error) {
		return tk.search.Search(ctx, query, limit)
	})
}

// Complete sends a prompt to the language model through its breaker.
func (tk *Toolkit) Complete(ctx context.Context, prompt string) (string, error) {
	return callWithRetry(ctx, tk.breakers.Get("llm"), tk.retry, func() (string, error) {
		return tk.complete.Complete(ctx, prompt)
	})
}
