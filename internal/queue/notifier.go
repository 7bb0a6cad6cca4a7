// Package queue wakes workers when a job is ready. The database stays the
// source of truth; a lost notification only delays work until the next poll.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the redis list that carries ready job ids.
const DefaultKey = "book_jobs:ready"

// Notifier publishes and waits for ready job ids.
type Notifier interface {
	// Notify announces that jobID is queued.
	Notify(ctx context.Context, jobID string) error
	// Wait blocks up to timeout for an announcement. It returns "" when the
	// timeout passes without one.
	Wait(ctx context.Context, timeout time.Duration) (string, error)
}

// RedisNotifier pushes job ids onto a redis list and pops them with BRPOP.
type RedisNotifier struct {
	rdb *redis.Client
	key string
}

func NewRedisNotifier(rdb *redis.Client, key string) *RedisNotifier {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &RedisNotifier{rdb: rdb, key: key}
}

func (n *RedisNotifier) Notify(ctx context.Context, jobID string) error {
	if err := n.rdb.LPush(ctx, n.key, jobID).Err(); err != nil {
		return fmt.Errorf("queue: notify %s: %w", jobID, err)
	}
	return nil
}

func (n *RedisNotifier) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	// BRPOP treats 0 as forever and has one-second resolution.
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := n.rdb.BRPop(ctx, timeout, n.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("queue: wait: %w", err)
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("queue: unexpected BRPOP reply %v", res)
	}
	return res[1], nil
}

// Nop drops notifications and waits by sleeping, which turns the worker into
// a plain poller.
type Nop struct{}

func (Nop) Notify(ctx context.Context, jobID string) error { return nil }

func (Nop) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
		return "", nil
	}
}

// New returns a redis notifier, or Nop when rdb is nil.
func New(rdb *redis.Client, key string) Notifier {
	if rdb == nil {
		return Nop{}
	}
	return NewRedisNotifier(rdb, key)
}
