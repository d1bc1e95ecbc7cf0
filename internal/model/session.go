package model

import (
	"sync"
	"time"
)

// DefaultMaxTurns 单个会话保留的最大消息数。
const DefaultMaxTurns = 50

// Session 单个会话的历史与文档上下文。
//
// 历史只追加、按时间递增；超过 MaxTurns 时淘汰最旧的消息。
// Lock/Unlock 串行化同一会话上的整轮处理，数据读写另有内部锁。
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	turnMu sync.Mutex

	mu         sync.RWMutex
	turns      []Turn
	document   *DocumentRef
	userTurns  int
	ended      bool
	lastActive time.Time
	maxTurns   int
}

// NewSession 创建会话，maxTurns <= 0 时使用默认值。
func NewSession(id string, now time.Time, maxTurns int) *Session {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lastActive: now,
		maxTurns:   maxTurns,
	}
}

// Lock 开始一轮处理，同一会话同一时间只有一轮在进行。
func (s *Session) Lock() { s.turnMu.Lock() }

// Unlock 结束一轮处理。
func (s *Session) Unlock() { s.turnMu.Unlock() }

// Append 追加一条消息。时间戳早于上一条时会被提升到上一条的时间，保证有序。
func (s *Session) Append(t Turn) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.turns); n > 0 && t.Timestamp.Before(s.turns[n-1].Timestamp) {
		t.Timestamp = s.turns[n-1].Timestamp
	}
	s.turns = append(s.turns, t)
	if t.Role == RoleUser {
		s.userTurns++
	}
	if over := len(s.turns) - s.maxTurns; over > 0 {
		s.turns = append([]Turn(nil), s.turns[over:]...)
	}
	if t.Timestamp.After(s.lastActive) {
		s.lastActive = t.Timestamp
	}
	return t
}

// Turns 返回历史的副本。
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len 返回当前保留的消息数。
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// UserTurns 返回会话以来的用户消息总数（含已淘汰的）。
func (s *Session) UserTurns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userTurns
}

// SetDocument 记录最近一次上传的文档，替换之前的文档。
func (s *Session) SetDocument(doc *DocumentRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = doc
}

// Document 返回最近一次上传的文档，可能为 nil。
func (s *Session) Document() *DocumentRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

// Clear 清空历史与文档，会话本身保留。
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.document = nil
	s.ended = false
}

// End 标记会话已结束。
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

// Ended 会话是否已被用户结束。
func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Touch 更新最后活跃时间。
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActive) {
		s.lastActive = now
	}
}

// LastActive 返回最后活跃时间。
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// MaxTurns 返回历史上限。
func (s *Session) MaxTurns() int { return s.maxTurns }
