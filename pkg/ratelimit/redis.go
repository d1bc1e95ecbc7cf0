package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/company-chat/pkg/utils/id"
)

// admitScript 在 redis 端原子执行修剪、检查、记录，只有准入时才写入。
//
// KEYS[1] 窗口键
// ARGV[1] now（毫秒） ARGV[2] cutoff（毫秒） ARGV[3] limit ARGV[4] member ARGV[5] ttl（毫秒）
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return 1
end
return 0
`)

// RedisLimiter 基于 redis 有序集合的滑动窗口，多个进程可共享同一预算。
// score 为毫秒时间戳，member 为 ULID 以避免同一毫秒的准入互相覆盖。
type RedisLimiter struct {
	client redis.UniversalClient
	cfg    *Config
}

// NewRedisLimiter 创建 redis 限流器。
func NewRedisLimiter(client redis.UniversalClient, cfg *Config) *RedisLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Key == "" {
		cfg.Key = DefaultConfig().Key
	}
	return &RedisLimiter{client: client, cfg: cfg}
}

// Admit implements Limiter.
func (r *RedisLimiter) Admit(ctx context.Context, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()
	cutoff := now.Add(-r.cfg.Window).UnixMilli()

	admitted, err := admitScript.Run(ctx, r.client, []string{r.cfg.Key},
		nowMs,
		cutoff,
		r.cfg.Limit,
		id.NewULID(),
		r.cfg.Window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis admit: %w", err)
	}
	return admitted == 1, nil
}

// Snapshot implements Limiter.
func (r *RedisLimiter) Snapshot(ctx context.Context, now time.Time) (Window, error) {
	cutoff := now.Add(-r.cfg.Window).UnixMilli()

	entries, err := r.client.ZRangeByScoreWithScores(ctx, r.cfg.Key, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return Window{}, fmt.Errorf("ratelimit: redis snapshot: %w", err)
	}

	timestamps := make([]time.Time, 0, len(entries))
	for _, z := range entries {
		timestamps = append(timestamps, time.UnixMilli(int64(z.Score)).UTC())
	}
	return newWindow(r.cfg, now, timestamps), nil
}

// Reset implements Limiter.
func (r *RedisLimiter) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.cfg.Key).Err()
}
