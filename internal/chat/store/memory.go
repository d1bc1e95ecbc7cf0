package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/company-chat/internal/model"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/utils/id"
)

// MemoryConfig 内存会话存储配置。
type MemoryConfig struct {
	// MaxTurns 每个会话保留的最大消息数。
	MaxTurns int
	// IdleTTL 会话空闲多久后被清理，<= 0 表示不清理。
	IdleTTL time.Duration
	// SweepInterval 清理间隔。
	SweepInterval time.Duration
	// OnChange 会话数变化时回调，用于指标。
	OnChange func(count int)
}

// DefaultMemoryConfig 返回默认配置。
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxTurns:      model.DefaultMaxTurns,
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// MemoryStore 基于 map 的 SessionStore。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	config   *MemoryConfig
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore 创建内存会话存储，IdleTTL > 0 时启动后台清理。
func NewMemoryStore(config *MemoryConfig) *MemoryStore {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	s := &MemoryStore{
		sessions: make(map[string]*model.Session),
		config:   config,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if config.IdleTTL > 0 && config.SweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

// Create implements SessionStore.
func (s *MemoryStore) Create(_ context.Context) (*model.Session, error) {
	sess := model.NewSession(id.NewUUID(), s.now(), s.config.MaxTurns)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	s.changed(n)
	logger.Debugw("session created", "session_id", sess.ID)
	return sess, nil
}

// Get implements SessionStore.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, errno.ErrSessionNotFound
	}
	sess.Touch(s.now())
	return sess, nil
}

// Delete implements SessionStore.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return errno.ErrSessionNotFound
	}
	s.changed(n)
	return nil
}

// List implements SessionStore.
func (s *MemoryStore) List(_ context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	out := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Count implements SessionStore.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep 删除空闲超过 IdleTTL 的会话，返回删除数量。
func (s *MemoryStore) Sweep() int {
	if s.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.config.IdleTTL)

	s.mu.Lock()
	removed := 0
	for sid, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			delete(s.sessions, sid)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.changed(n)
		logger.Infow("idle sessions expired", "removed", removed, "remaining", n)
	}
	return removed
}

// Close 停止后台清理。
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) changed(n int) {
	if s.config.OnChange != nil {
		s.config.OnChange(n)
	}
}
