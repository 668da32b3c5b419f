package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
	)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "S226")
			require.NoError(t, err)
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			require.NoError(t, release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "at most one holder per capsule at a time")
}

func TestLocalLocker_DistinctCapsulesDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	releaseA, err := locker.Acquire(ctx, "S226")
	require.NoError(t, err)
	defer releaseA(ctx)

	done := make(chan struct{})
	go func() {
		releaseB, err := locker.Acquire(ctx, "S227")
		assert.NoError(t, err)
		releaseB(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring a different capsule's lock should not block")
	}
}

func TestLocalLocker_AcquireRespectsContext(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "S226")
	require.NoError(t, err)
	defer release(ctx)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(short, "S226")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_ReleaseIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "S226")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	// Lock must be reacquirable after release.
	again, err := locker.Acquire(ctx, "S226")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
