package resilience

import "time"

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	RetryJitter         float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32

	// OnRetry is invoked before each backoff wait.
	OnRetry func(operation string, attempt int, err error)
	// OnStateChange receives the new breaker state ("closed", "half-open",
	// "open") for an operation.
	OnStateChange func(operation, state string)
}

// WithStateObserver returns a copy of c reporting breaker transitions to fn.
func (c Config) WithStateObserver(fn func(operation, state string)) Config {
	c.OnStateChange = fn
	return c
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.RetryJitter < 0 || out.RetryJitter > 1 {
		out.RetryJitter = 0
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

// DispatchConfig retries outbound sends a few times with long waits and no
// breaker, so one bad recipient does not block later replies.
func DispatchConfig(maxAttempts int) Config {
	return Config{
		RetryMaxAttempts:    maxAttempts,
		RetryInitialBackoff: 2 * time.Second,
		RetryMaxBackoff:     30 * time.Second,
		RetryMultiplier:     2.0,
		RetryJitter:         0.2,
		BreakerEnabled:      false,
	}
}

// CredentialConfig makes a single attempt per call behind a breaker, so a
// credential that keeps failing is skipped until its breaker half-opens.
func CredentialConfig() Config {
	return Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         1.0,
		BreakerEnabled:          true,
		BreakerMinRequests:      3,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      60 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// PersistenceConfig retries store writes long enough to ride out a database
// failover without stalling the drain loop indefinitely.
func PersistenceConfig() Config {
	return Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     10 * time.Second,
		RetryMultiplier:     2.0,
		RetryJitter:         0.2,
		BreakerEnabled:      false,
	}
}

// NotifyConfig covers escalation notifiers: a couple of quick retries behind
// a breaker so an unreachable channel stops costing drain-loop time.
func NotifyConfig() Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     200 * time.Millisecond,
		RetryMaxBackoff:         2 * time.Second,
		RetryMultiplier:         2.0,
		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      2 * time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}
