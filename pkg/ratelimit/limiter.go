// Package ratelimit 提供滑动窗口准入控制，限制付费外部调用的频率。
//
// 预算是进程级（或 redis 后端下跨进程）共享的：所有会话共用一个窗口。
// 拒绝不是错误，Admit 返回 false 即可。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BackendMemory 进程内后端。
	BackendMemory = "memory"
	// BackendRedis redis 有序集合后端。
	BackendRedis = "redis"
)

// Limiter 滑动窗口准入控制器。
type Limiter interface {
	// Admit 在 now 时刻尝试占用一个名额。
	// 修剪早于 now-window 的时间戳；剩余数量小于上限时记录 now 并返回 true。
	// 修剪、检查、记录三步是原子的。
	Admit(ctx context.Context, now time.Time) (bool, error)

	// Snapshot 返回 now 时刻的窗口视图，不修改状态。
	Snapshot(ctx context.Context, now time.Time) (Window, error)

	// Reset 清空窗口。
	Reset(ctx context.Context) error
}

// Config 限流配置。
type Config struct {
	// Limit 窗口内允许的最大准入次数。
	Limit int
	// Window 窗口长度。
	Window time.Duration
	// Key redis 后端使用的键。
	Key string
}

// DefaultConfig 返回默认配置：60 秒内 3 次。
func DefaultConfig() *Config {
	return &Config{
		Limit:  3,
		Window: 60 * time.Second,
		Key:    "company-chat:ratelimit:global",
	}
}

// Window 某一时刻的窗口视图。
type Window struct {
	Limit      int           `json:"limit"`
	Size       time.Duration `json:"window"`
	Timestamps []time.Time   `json:"timestamps"`
	Remaining  int           `json:"remaining"`
	// ResetAt 下一个名额释放的时间；有剩余名额时为 now。
	ResetAt time.Time `json:"reset_at"`
}

func newWindow(cfg *Config, now time.Time, timestamps []time.Time) Window {
	w := Window{
		Limit:      cfg.Limit,
		Size:       cfg.Window,
		Timestamps: timestamps,
		Remaining:  cfg.Limit - len(timestamps),
		ResetAt:    now,
	}
	if w.Remaining < 0 {
		w.Remaining = 0
	}
	if w.Remaining == 0 && len(timestamps) > 0 {
		// 最早的时间戳过期后腾出一个名额
		w.ResetAt = timestamps[len(timestamps)-cfg.Limit].Add(cfg.Window)
	}
	return w
}

// New 按 backend 创建限流器。backend 为 redis 时 client 不能为空。
func New(backend string, cfg *Config, client redis.UniversalClient) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: limit and window must be positive, got %d/%s", cfg.Limit, cfg.Window)
	}

	switch backend {
	case "", BackendMemory:
		return NewMemoryLimiter(cfg), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("ratelimit: redis backend requires a redis client")
		}
		return NewRedisLimiter(client, cfg), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", backend)
	}
}
