package lock

import (
	"context"
	"sync"

	"capstate/pkg/domain"
)

// LocalLocker serializes capsule access within a single process. File and
// memory deployments use it; multi-process deployments need RedisLocker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[domain.CapsuleID]*capsuleLock
}

type capsuleLock struct {
	ch chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[domain.CapsuleID]*capsuleLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, capsuleID domain.CapsuleID) (Release, error) {
	l.mu.Lock()
	cl, ok := l.locks[capsuleID]
	if !ok {
		cl = &capsuleLock{ch: make(chan struct{}, 1)}
		l.locks[capsuleID] = cl
	}
	l.mu.Unlock()

	select {
	case cl.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() { <-cl.ch })
		return nil
	}
	return release, nil
}
