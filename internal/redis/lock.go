package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("provider lock not acquired")

// Locker serialises schedule writes per provider across service instances.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error
}

type LockOptions struct {
	// TTL bounds both the key lifetime and the critical section.
	TTL time.Duration
	// Wait is how long a contended acquire keeps retrying. Zero fails fast.
	Wait time.Duration
	// RetryEvery defaults to 25ms.
	RetryEvery time.Duration
}

type providerLocker struct {
	client redis.UniversalClient
	opts   LockOptions
}

func NewProviderLocker(client redis.UniversalClient, opts LockOptions) Locker {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 25 * time.Millisecond
	}
	return &providerLocker{client: client, opts: opts}
}

func lockKey(providerID uuid.UUID) string {
	return "lock:provider:" + providerID.String()
}

func (l *providerLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(providerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// release even when the caller's ctx is already cancelled
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(lockCtx)
}

func (l *providerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.opts.Wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("acquire provider lock: %w", err)
		}
		if ok {
			return nil
		}

		if time.Until(deadline) < l.opts.RetryEvery {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.RetryEvery):
		}
	}
}

// Only the holder's token may delete the key; an expired lock taken over by
// another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *providerLocker) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release provider lock: %w", err)
	}
	return nil
}
