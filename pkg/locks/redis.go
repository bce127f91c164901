package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL   = 30 * time.Second
	defaultRetryWait = 50 * time.Millisecond
	maxRetryWait     = time.Second
	redisKeyPrefix   = "tidewire:lock:"
)

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker coordinates instances sharing one Redis. Locks expire after
// ttl so a crashed holder cannot block a workflow forever. While a lock is
// held its expiry is extended every ttl/3; a lease whose key expired or was
// taken over is reported lost.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "redis_locker"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	return lease.Release, nil
}

// Acquire waits for key and keeps it alive until the lease is released.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (*Lease, error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()
	wait := defaultRetryWait

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if acquired {
			break
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-timer.C:
		}

		wait = min(wait*2, maxRetryWait)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	var once sync.Once

	lease := newLease(func() {
		once.Do(func() {
			close(stop)
			<-done

			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
			if err != nil {
				l.logger.WarnContext(releaseCtx, "Failed to release lock", "key", key, "error", err)
			}
		})
	})

	go l.keepAlive(context.WithoutCancel(ctx), lease, key, token, stop, done)

	return lease, nil
}

func (l *RedisLocker) keepAlive(ctx context.Context, lease *Lease, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	redisKey := redisKeyPrefix + key

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		extendCtx, cancel := context.WithTimeout(ctx, l.ttl/3)
		extended, err := extendScript.Run(extendCtx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()

		if err != nil {
			// transient; the key survives until ttl runs out
			l.logger.WarnContext(ctx, "Failed to extend lock", "key", key, "error", err)

			continue
		}

		if extended == 0 {
			l.logger.ErrorContext(ctx, "Lock expired while held", "key", key)
			lease.markLost()

			return
		}
	}
}
