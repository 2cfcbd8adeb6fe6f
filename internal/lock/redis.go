package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key of the campaign lease.
const DefaultKey = "pricing:campaign:lease"

// Only the holder's token may extend or delete the key.
var (
	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// Redis is a Locker backed by a single Redis key set with NX and a TTL.
type Redis struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedis creates a Redis-backed Locker. The lease expires after ttl unless
// refreshed, so a crashed holder never blocks the others for longer.
func NewRedis(client redis.Cmdable, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key, ttl: ttl, poll: 50 * time.Millisecond}
}

// Acquire implements Locker by polling SET NX until wait elapses.
func (r *Redis) Acquire(ctx context.Context, wait time.Duration) (Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", r.key, err)
		}
		if ok {
			return &redisLease{locker: r, token: token}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}
		pause := min(r.poll, remaining)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}

type redisLease struct {
	locker *Redis
	token  string
	done   bool
}

func (l *redisLease) Refresh(ctx context.Context) error {
	if l.done {
		return ErrLeaseLost
	}
	n, err := refreshScript.Run(ctx, l.locker.client, []string{l.locker.key},
		l.token, l.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", l.locker.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if l.done {
		return nil
	}
	l.done = true
	n, err := releaseScript.Run(ctx, l.locker.client, []string{l.locker.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.locker.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
