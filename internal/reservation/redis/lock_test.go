package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

// setupTestRedis returns a client connected to an in-memory miniredis server
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func newLock(client *redis.Client, wait time.Duration) *ElementLock {
	return &ElementLock{Client: client, TTL: 5 * time.Second, Wait: wait, Logger: logger.NewDiscard()}
}

// isLocked reports whether the element's lock key is currently held.
func isLocked(t *testing.T, l *ElementLock, eventID, elementID string) bool {
	t.Helper()
	n, err := l.Client.Exists(context.Background(), lockKey(eventID, elementID)).Result()
	require.NoError(t, err)
	return n == 1
}

func TestAcquireAndRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := newLock(client, 0)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "ev1", "table-1")
	require.NoError(t, err)

	assert.True(t, isLocked(t, l, "ev1", "table-1"))

	_, err = l.Acquire(ctx, "ev1", "table-1")
	assert.ErrorIs(t, err, models.ErrContention, "a held lock is not granted twice")

	other, err := l.Acquire(ctx, "ev1", "table-2")
	require.NoError(t, err, "locks are per element")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, isLocked(t, l, "ev1", "table-1"))
}

func TestReleaseOnlyByOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := newLock(client, 0)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "ev1", "sofa-3")
	require.NoError(t, err)

	// The TTL runs out and someone else takes the lock.
	mr.FastForward(6 * time.Second)
	current, err := l.Acquire(ctx, "ev1", "sofa-3")
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, isLocked(t, l, "ev1", "sofa-3"), "an expired lease must not release the new holder's lock")

	require.NoError(t, current.Release(ctx))
	assert.False(t, isLocked(t, l, "ev1", "sofa-3"))
}

func TestAcquireWaitsForRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := newLock(client, 2*time.Second)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "ev1", "bed-7")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		first.Release(ctx)
	}()

	second, err := l.Acquire(ctx, "ev1", "bed-7")
	require.NoError(t, err, "the waiter gets the lock once it is released")
	require.NoError(t, second.Release(ctx))
}

func TestAcquireHonoursContext(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := newLock(client, 10*time.Second)

	held, err := l.Acquire(context.Background(), "ev1", "table-9")
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "ev1", "table-9")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockIsExclusiveUnderConcurrency(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := newLock(client, 3*time.Second)
	ctx := context.Background()

	const workers = 10
	var (
		wg      sync.WaitGroup
		holders int32
		maxSeen int32
		granted int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "ev1", "table-1")
			if err != nil {
				return
			}
			atomic.AddInt32(&granted, 1)
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&holders, -1)
			lease.Release(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen, "never more than one holder at a time")
	assert.Equal(t, int32(workers), granted)
}

func TestReleaseNilLease(t *testing.T) {
	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}
