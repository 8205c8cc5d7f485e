package redis

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewClientFrom(rdb, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestNewLockerDefaults(t *testing.T) {
	l := NewLocker(nil, LockerConfig{MinBackoff: time.Second})
	assert.Equal(t, "clover:lock:", l.config.KeyPrefix)
	assert.Equal(t, 30*time.Second, l.config.TTL)
	assert.Equal(t, time.Second, l.config.MaxBackoff)
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "cache:6380", Config{Host: "cache", Port: 6380}.Addr())
}

func TestLockerMutualExclusion(t *testing.T) {
	client := testClient(t)
	locker := NewLocker(client, LockerConfig{KeyPrefix: "clover:test:" + t.Name() + ":"})

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "sig")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLockerHonoursContext(t *testing.T) {
	client := testClient(t)
	locker := NewLocker(client, LockerConfig{KeyPrefix: "clover:test:" + t.Name() + ":"})

	unlock, err := locker.Lock(context.Background(), "sig")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "sig")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
