package redisguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

const DefaultTTL = 7 * 24 * time.Hour

const (
	statePending = "pending"
	stateSent    = "sent"
)

type commander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Guard remembers which replies were already sent. A key holds "pending"
// from reservation until the transport accepted the reply, then "sent".
type Guard struct {
	rdb commander
	ttl time.Duration
}

func New(rdb commander, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// Dial parses a redis:// URL and returns the guard with its client so the
// caller can close it.
func Dial(url string, ttl time.Duration) (*Guard, *redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	return New(rdb, ttl), rdb, nil
}

// Reserve returns false only when key is marked sent. A pending key left by
// an interrupted send is reserved again.
func (g *Guard) Reserve(ctx context.Context, key string) (bool, error) {
	set, err := g.rdb.SetNX(ctx, key, statePending, g.ttl).Result()
	if err != nil {
		return false, domain.WrapError(domain.ErrConnection, "send guard reserve", err)
	}
	if set {
		return true, nil
	}

	state, err := g.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET.
		return g.Reserve(ctx, key)
	case err != nil:
		return false, domain.WrapError(domain.ErrConnection, "send guard reserve", err)
	}
	return state == statePending, nil
}

func (g *Guard) MarkSent(ctx context.Context, key string) error {
	if err := g.rdb.Set(ctx, key, stateSent, g.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrConnection, "send guard mark sent", err)
	}
	return nil
}

func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, key).Err(); err != nil {
		return domain.WrapError(domain.ErrConnection, "send guard release", err)
	}
	return nil
}

func (g *Guard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
