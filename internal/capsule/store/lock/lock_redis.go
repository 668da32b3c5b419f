package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"capstate/pkg/domain"
)

// RedisLocker implements the capsule lock as a Redis lease: SET NX with a
// TTL, released only by the owner. The TTL bounds how long a crashed worker
// can hold a capsule hostage.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 100 * time.Millisecond}
}

func lockKey(capsuleID domain.CapsuleID) string {
	return "capstate:lock:" + capsuleID.String()
}

// releaseScript deletes the lock only if the caller still owns it, so a
// worker that overran its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, capsuleID domain.CapsuleID) (Release, error) {
	key := lockKey(capsuleID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire capsule lock %s: %w", capsuleID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release capsule lock %s: %w", capsuleID, err)
		}
		return nil
	}
	return release, nil
}
