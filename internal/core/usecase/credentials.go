package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// CredentialPool is an ordered ring of interchangeable API keys with a
// rotation cursor. The cursor only moves when a call fails over.
type CredentialPool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

func NewCredentialPool(keys []string) (*CredentialPool, error) {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new credential pool", errors.New("no credentials configured"))
	}
	return &CredentialPool{keys: clean}, nil
}

func (p *CredentialPool) Size() int {
	return len(p.keys)
}

func (p *CredentialPool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Cycle starts a single pass over the pool for one external call, beginning
// at the current cursor.
func (p *CredentialPool) Cycle() *CredentialCycle {
	return &CredentialCycle{pool: p}
}

// CredentialCycle hands out each credential at most once.
type CredentialCycle struct {
	pool  *CredentialPool
	tried int
}

// Next returns the credential to try next. The first call yields the current
// cursor; each later call rotates the cursor by one. It reports false once
// every credential has been tried.
func (c *CredentialCycle) Next() (domain.Credential, bool) {
	p := c.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.tried >= len(p.keys) {
		return domain.Credential{}, false
	}
	if c.tried > 0 {
		p.cursor = (p.cursor + 1) % len(p.keys)
	}
	c.tried++
	return domain.Credential{Index: p.cursor, Key: p.keys[p.cursor]}, true
}

// FailoverCompleter runs a completion through the credential pool, rotating
// on rate limits, rejected credentials and transient failures.
type FailoverCompleter struct {
	pool      *CredentialPool
	completer ports.Completer
	observer  Observer
}

func NewFailoverCompleter(pool *CredentialPool, completer ports.Completer, observer Observer) *FailoverCompleter {
	return &FailoverCompleter{
		pool:      pool,
		completer: completer,
		observer:  observerOrNop(observer),
	}
}

func (f *FailoverCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	cycle := f.pool.Cycle()
	var lastErr error
	attempts := 0

	for {
		cred, ok := cycle.Next()
		if !ok {
			break
		}
		if attempts > 0 {
			f.observer.ObserveCredentialRotation()
			slog.Warn("credential_rotated",
				"credential_index", cred.Index,
				"pool_size", f.pool.Size(),
				"error", lastErr,
			)
		}
		attempts++

		text, err := f.completer.Complete(ctx, cred, req)
		if err == nil {
			f.observer.ObserveLLMCall("success")
			return text, nil
		}
		lastErr = err
		f.observer.ObserveLLMCall(callResult(err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", domain.WrapError(domain.ErrGeneration, "llm complete", err)
		}
		if !shouldRotate(err) {
			return "", domain.WrapError(domain.ErrGeneration, "llm complete", err)
		}
	}

	return "", domain.WrapError(
		domain.ErrGeneration,
		"llm complete",
		fmt.Errorf("%w after %d attempts: %w", domain.ErrCredentialsExhausted, attempts, lastErr),
	)
}

func shouldRotate(err error) bool {
	return domain.IsKind(err, domain.ErrRateLimited) ||
		domain.IsKind(err, domain.ErrAuth) ||
		domain.IsKind(err, domain.ErrTemporary)
}

func callResult(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrRateLimited):
		return "rate_limited"
	case domain.IsKind(err, domain.ErrAuth):
		return "auth_rejected"
	case domain.IsKind(err, domain.ErrTemporary):
		return "transient"
	default:
		return "failed"
	}
}
