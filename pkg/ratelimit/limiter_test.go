package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRedisLimiter(t *testing.T, cfg *Config) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, cfg)
}

// backends 对两种实现运行同一组用例
func backends(t *testing.T, cfg func() *Config) map[string]Limiter {
	return map[string]Limiter{
		BackendMemory: NewMemoryLimiter(cfg()),
		BackendRedis:  newRedisLimiter(t, cfg()),
	}
}

func TestLimiter_ThreeInTenSecondsThenDeny(t *testing.T) {
	for name, l := range backends(t, DefaultConfig) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				ok, err := l.Admit(ctx, base.Add(time.Duration(i)*5*time.Second))
				require.NoError(t, err)
				assert.True(t, ok, "admission %d", i+1)
			}

			ok, err := l.Admit(ctx, base.Add(10*time.Second))
			require.NoError(t, err)
			assert.False(t, ok)

			w, err := l.Snapshot(ctx, base.Add(10*time.Second))
			require.NoError(t, err)
			assert.Len(t, w.Timestamps, 3, "denial must not be recorded")
			assert.Equal(t, 0, w.Remaining)
			assert.Equal(t, base.Add(60*time.Second), w.ResetAt)
		})
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	for name, l := range backends(t, DefaultConfig) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				ok, err := l.Admit(ctx, base.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				require.True(t, ok)
			}

			// 第一个时间戳恰好在窗口边界上，仍然计数
			ok, err := l.Admit(ctx, base.Add(60*time.Second))
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = l.Admit(ctx, base.Add(60*time.Second+time.Millisecond))
			require.NoError(t, err)
			assert.True(t, ok)

			w, err := l.Snapshot(ctx, base.Add(60*time.Second+time.Millisecond))
			require.NoError(t, err)
			assert.Len(t, w.Timestamps, 3)
			for _, ts := range w.Timestamps {
				assert.False(t, ts.Before(base.Add(time.Millisecond)), "pruned window holds %s", ts)
			}
		})
	}
}

func TestLimiter_SnapshotDoesNotMutate(t *testing.T) {
	for name, l := range backends(t, DefaultConfig) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := l.Admit(ctx, base)
			require.NoError(t, err)
			require.True(t, ok)

			for i := 0; i < 5; i++ {
				w, err := l.Snapshot(ctx, base.Add(time.Second))
				require.NoError(t, err)
				assert.Equal(t, 2, w.Remaining)
				assert.Equal(t, base.Add(time.Second), w.ResetAt)
			}

			// 已过期的时间戳在快照中不可见
			w, err := l.Snapshot(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Empty(t, w.Timestamps)
			assert.Equal(t, 3, w.Remaining)
		})
	}
}

func TestLimiter_Reset(t *testing.T) {
	for name, l := range backends(t, DefaultConfig) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := l.Admit(ctx, base)
				require.NoError(t, err)
			}
			require.NoError(t, l.Reset(ctx))

			ok, err := l.Admit(ctx, base)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestLimiter_ConcurrentAdmissions(t *testing.T) {
	cfg := func() *Config {
		c := DefaultConfig()
		c.Limit = 5
		return c
	}
	for name, l := range backends(t, cfg) {
		t.Run(name, func(t *testing.T) {
			var admitted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.Admit(context.Background(), base)
					assert.NoError(t, err)
					if ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(5), admitted.Load())
		})
	}
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientA.Close()
	defer clientB.Close()

	a := NewRedisLimiter(clientA, DefaultConfig())
	b := NewRedisLimiter(clientB, DefaultConfig())
	ctx := context.Background()

	for _, l := range []Limiter{a, b, a} {
		ok, err := l.Admit(ctx, base)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := b.Admit(ctx, base)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiter_BackendError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewRedisLimiter(client, DefaultConfig())

	mr.Close()
	_, err := l.Admit(context.Background(), base)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	l, err := New("", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)

	_, err = New(BackendRedis, DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = New("etcd", DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = New(BackendMemory, &Config{Limit: 0, Window: time.Minute}, nil)
	assert.Error(t, err)
}
