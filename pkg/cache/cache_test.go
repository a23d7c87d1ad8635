package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) (map[string]Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]Service{
		"memory": mem,
		"redis":  NewRedisCacheFromClient(client, "test"),
	}, mr
}

func TestClaimIsExclusiveUntilReleased(t *testing.T) {
	svcs, _ := backends(t)
	ctx := context.Background()

	for name, svc := range svcs {
		t.Run(name, func(t *testing.T) {
			lease, ok, err := svc.Claim(ctx, "cooldown:s-1", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "cooldown:s-1", lease.Key)
			assert.NotEmpty(t, lease.Token)

			_, ok, err = svc.Claim(ctx, "cooldown:s-1", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, svc.Release(ctx, lease))
			assert.ErrorIs(t, svc.Release(ctx, lease), ErrLeaseLost)

			_, ok, err = svc.Claim(ctx, "cooldown:s-1", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestReleaseIgnoresForeignLease(t *testing.T) {
	svcs, _ := backends(t)
	ctx := context.Background()

	for name, svc := range svcs {
		t.Run(name, func(t *testing.T) {
			_, ok, err := svc.Claim(ctx, "k", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			err = svc.Release(ctx, Lease{Key: "k", Token: "someone-else"})
			assert.ErrorIs(t, err, ErrLeaseLost)

			_, ok, err = svc.Claim(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "foreign release must not free the key")
		})
	}
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	svcs, _ := backends(t)
	ctx := context.Background()

	for name, svc := range svcs {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			winners := 0
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := svc.Claim(ctx, "race", time.Minute)
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, winners)
		})
	}
}

func TestCountSetsWindowOnFirstIncrement(t *testing.T) {
	svcs, mr := backends(t)
	ctx := context.Background()

	for name, svc := range svcs {
		t.Run(name, func(t *testing.T) {
			for i := int64(1); i <= 3; i++ {
				n, err := svc.Count(ctx, "count:s-1", time.Hour)
				require.NoError(t, err)
				assert.Equal(t, i, n)
			}
		})
	}
	assert.Equal(t, time.Hour, mr.TTL("test:count:s-1"))
}

func TestRedisLeaseExpiry(t *testing.T) {
	svcs, mr := backends(t)
	svc := svcs["redis"]
	ctx := context.Background()

	lease, ok, err := svc.Claim(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = svc.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, svc.Release(ctx, lease), ErrLeaseLost)
}

func TestMemoryExpiryUsesClock(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	mc := newMemoryCache(time.Hour, func() time.Time { return now })
	defer mc.Close()
	ctx := context.Background()

	_, ok, err := mc.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := mc.Count(ctx, "c", time.Minute)
	assert.Equal(t, int64(1), n)

	now = now.Add(time.Minute)
	_, ok, err = mc.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	n, _ = mc.Count(ctx, "c", time.Minute)
	assert.Equal(t, int64(1), n, "window restarted")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "alert:cooldown:s-1:temperature", Key("alert", "cooldown", "s-1:temperature"))
	assert.Equal(t, "a:b", Key("a", "", "b"))
}
