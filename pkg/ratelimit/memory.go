package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLimiter 进程内滑动窗口，用互斥锁保证修剪、检查、记录的原子性。
type MemoryLimiter struct {
	cfg *Config

	mu         sync.Mutex
	timestamps []time.Time
}

// NewMemoryLimiter 创建进程内限流器。
func NewMemoryLimiter(cfg *Config) *MemoryLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryLimiter{
		cfg:        cfg,
		timestamps: make([]time.Time, 0, cfg.Limit),
	}
}

// Admit implements Limiter.
func (m *MemoryLimiter) Admit(_ context.Context, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timestamps = pruneBefore(m.timestamps, now.Add(-m.cfg.Window))
	if len(m.timestamps) >= m.cfg.Limit {
		return false, nil
	}
	m.timestamps = append(m.timestamps, now)
	return true, nil
}

// Snapshot implements Limiter.
func (m *MemoryLimiter) Snapshot(_ context.Context, now time.Time) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.cfg.Window)
	live := make([]time.Time, 0, len(m.timestamps))
	for _, t := range m.timestamps {
		if !t.Before(cutoff) {
			live = append(live, t)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Before(live[j]) })
	return newWindow(m.cfg, now, live), nil
}

// Reset implements Limiter.
func (m *MemoryLimiter) Reset(context.Context) error {
	m.mu.Lock()
	m.timestamps = m.timestamps[:0]
	m.mu.Unlock()
	return nil
}

// pruneBefore 丢弃早于 cutoff 的时间戳。timestamps 按记录顺序存放，
// 但调用方传入的 now 不保证单调，所以逐个判断而不是找第一个有效下标。
func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0]
	for _, t := range timestamps {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
