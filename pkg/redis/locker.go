package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrLockNotHeld is returned when a release finds another owner's token
var ErrLockNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// LockerConfig tunes the creation lock
type LockerConfig struct {
	KeyPrefix string
	// TTL bounds how long a crashed holder can block a signature
	TTL        time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func DefaultLockerConfig() LockerConfig {
	return LockerConfig{
		KeyPrefix:  "clover:lock:",
		TTL:        30 * time.Second,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 250 * time.Millisecond,
	}
}

// Locker serializes entity creation across service instances. It satisfies
// resolver.Locker.
type Locker struct {
	client *Client
	config LockerConfig
}

func NewLocker(client *Client, config LockerConfig) *Locker {
	def := DefaultLockerConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.MinBackoff <= 0 {
		config.MinBackoff = def.MinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = config.MinBackoff
	}
	return &Locker{client: client, config: config}
}

// Lock blocks until key is held or ctx is done
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, span := tracing.StartSpan(ctx, "redis.Locker.Lock")
	defer span.End()

	lockKey := l.config.KeyPrefix + key
	token := uuid.NewString()
	backoff := l.config.MinBackoff

	for {
		ok, err := l.client.rdb.SetNX(ctx, lockKey, token, l.config.TTL).Result()
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > l.config.MaxBackoff {
			backoff = l.config.MaxBackoff
		}
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	var once sync.Once
	return func() {
		once.Do(func() {
			// release must run even if the caller's ctx was cancelled
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.release(rctx, lockKey, token); err != nil {
				l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock %s", lockKey)
			}
		})
	}, nil
}

func (l *Locker) release(ctx context.Context, lockKey, token string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{lockKey}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
