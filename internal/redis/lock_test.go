package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (Locker, *miniredis.Miniredis) {
	t.Helper()
	return newWaitingLocker(t, LockOptions{TTL: ttl})
}

func newWaitingLocker(t *testing.T, opts LockOptions) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewProviderLocker(client, opts), mr
}

func TestWithProviderLock_RunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	providerID := uuid.New()

	called := false
	err := locker.WithProviderLock(context.Background(), providerID, func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists(lockKey(providerID)), "lock key should exist while fn runs")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(lockKey(providerID)), "lock key should be released")
}

func TestWithProviderLock_ContendedProviderIsRejected(t *testing.T) {
	locker, _ := newTestLocker(t, 5*time.Second)
	providerID := uuid.New()

	err := locker.WithProviderLock(context.Background(), providerID, func(ctx context.Context) error {
		inner := locker.WithProviderLock(ctx, providerID, func(context.Context) error {
			t.Fatal("inner critical section must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithProviderLock_DifferentProvidersDoNotBlock(t *testing.T) {
	locker, _ := newTestLocker(t, 5*time.Second)

	err := locker.WithProviderLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return locker.WithProviderLock(ctx, uuid.New(), func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestWithProviderLock_PropagatesFnErrorAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	providerID := uuid.New()
	boom := errors.New("boom")

	err := locker.WithProviderLock(context.Background(), providerID, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(lockKey(providerID)))
}

func TestWithProviderLock_DoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	providerID := uuid.New()

	err := locker.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		// simulate expiry and takeover by another holder
		require.NoError(t, mr.Set(lockKey(providerID), "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(lockKey(providerID))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithProviderLock_WaitsForRelease(t *testing.T) {
	locker, _ := newWaitingLocker(t, LockOptions{TTL: 5 * time.Second, Wait: 2 * time.Second, RetryEvery: 5 * time.Millisecond})
	providerID := uuid.New()

	held := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithProviderLock(context.Background(), providerID, func(context.Context) error {
			close(held)
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}()

	<-held
	ran := false
	err := locker.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		ran = true
		return nil
	})
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithProviderLock_GivesUpAfterWait(t *testing.T) {
	locker, mr := newWaitingLocker(t, LockOptions{TTL: 5 * time.Second, Wait: 30 * time.Millisecond, RetryEvery: 5 * time.Millisecond})
	providerID := uuid.New()
	require.NoError(t, mr.Set(lockKey(providerID), "someone-else"))

	start := time.Now()
	err := locker.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		t.Fatal("must not run while another holder owns the key")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWithProviderLock_StopsWaitingOnCancel(t *testing.T) {
	locker, mr := newWaitingLocker(t, LockOptions{TTL: 5 * time.Second, Wait: time.Minute})
	providerID := uuid.New()
	require.NoError(t, mr.Set(lockKey(providerID), "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := locker.WithProviderLock(ctx, providerID, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithProviderLock_SetsTTL(t *testing.T) {
	locker, mr := newTestLocker(t, 3*time.Second)
	providerID := uuid.New()

	err := locker.WithProviderLock(context.Background(), providerID, func(context.Context) error {
		assert.Equal(t, 3*time.Second, mr.TTL(lockKey(providerID)))
		return nil
	})
	require.NoError(t, err)
}
