package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor what to do with a failed attempt:
// whether to try again and whether the failure counts against the breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor retries operations with exponential backoff and, when enabled,
// keeps one circuit breaker per operation name.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

var errNilOperation = errors.New("resilience: operation callback is nil")

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return errNilOperation
	}
	op := operationName(operation)
	if classifier == nil {
		classifier = recordAndStop
	}

	attempt := func() error { return e.retry(ctx, op, fn, classifier) }
	if !e.cfg.BreakerEnabled {
		return attempt()
	}
	_, err := e.breaker(op, classifier).Execute(func() (struct{}, error) {
		return struct{}{}, attempt()
	})
	return err
}

// Retry runs fn with the executor's retry and breaker policy, retrying only
// errors for which retryable reports true.
func (e *Executor) Retry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	retryable func(error) bool,
) error {
	return e.Execute(ctx, operation, fn, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     retryable != nil && retryable(err),
			RecordFailure: true,
		}
	})
}

func (e *Executor) retry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	backoff := NewBackoff(e.cfg.RetryInitialBackoff, e.cfg.RetryMaxBackoff, e.cfg.RetryMultiplier, e.cfg.RetryJitter)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastErr != nil {
				return lastErr
			}
			return ctxErr
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= e.cfg.RetryMaxAttempts || !classifier(lastErr).Retryable {
			return lastErr
		}

		wait := backoff.Next()
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", lastErr,
		)
		if e.cfg.OnRetry != nil {
			e.cfg.OnRetry(operation, attempt, lastErr)
		}
		if Sleep(ctx, wait) != nil {
			return lastErr
		}
	}
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.cfg.OnStateChange != nil {
				e.cfg.OnStateChange(name, to.String())
			}
		},
	})
	e.breakers[operation] = cb
	return cb
}

// IsCircuitOpen reports whether err came from a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func operationName(operation string) string {
	if op := strings.TrimSpace(operation); op != "" {
		return op
	}
	return "unknown"
}

func recordAndStop(error) ErrorClassification {
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
