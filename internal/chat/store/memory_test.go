package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/company-chat/internal/model"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/utils/id"
)

func newTestStore(t *testing.T, cfg *MemoryConfig) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(cfg)
	t.Cleanup(s.Close)
	return s
}

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &MemoryConfig{MaxTurns: 10})

	sess, err := s.Create(ctx)
	require.NoError(t, err)
	assert.True(t, id.IsUUID(sess.ID))
	assert.Equal(t, 10, sess.MaxTurns())

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.Delete(ctx, sess.ID))
	_, err = s.Get(ctx, sess.ID)
	assert.True(t, errno.Is(err, errno.ErrSessionNotFound))
	assert.True(t, errno.Is(s.Delete(ctx, sess.ID), errno.ErrSessionNotFound))
}

func TestMemoryStore_ListOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &MemoryConfig{})
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		i := i
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		sess, err := s.Create(ctx)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, sess := range list {
		assert.Equal(t, ids[i], sess.ID)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var counts []int
	s := newTestStore(t, &MemoryConfig{
		IdleTTL:  10 * time.Minute,
		OnChange: func(n int) { counts = append(counts, n) },
	})
	s.now = func() time.Time { return now }

	idle, _ := s.Create(ctx)
	active, _ := s.Create(ctx)

	now = now.Add(8 * time.Minute)
	active.Append(model.Turn{Role: model.RoleUser, Text: "hi", Timestamp: now})

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, s.Sweep())

	_, err := s.Get(ctx, idle.ID)
	assert.Error(t, err)
	_, err = s.Get(ctx, active.ID)
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestMemoryStore_GetTouchesSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &MemoryConfig{IdleTTL: 10 * time.Minute})
	s.now = func() time.Time { return now }

	sess, _ := s.Create(ctx)
	now = now.Add(9 * time.Minute)
	_, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	assert.Zero(t, s.Sweep())
}

func TestMemoryStore_BackgroundSweep(t *testing.T) {
	s := NewMemoryStore(&MemoryConfig{IdleTTL: time.Nanosecond, SweepInterval: 5 * time.Millisecond})
	defer s.Close()

	_, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := s.Create(ctx)
			if err != nil {
				t.Errorf("创建会话失败: %v", err)
				return
			}
			_, _ = s.Get(ctx, sess.ID)
			_, _ = s.List(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, s.Count())
}
