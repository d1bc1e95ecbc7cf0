package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_AppendKeepsOrder(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession("s1", base, 0)

	s.Append(Turn{ID: "1", Role: RoleUser, Text: "hi", Timestamp: base.Add(2 * time.Second)})
	got := s.Append(Turn{ID: "2", Role: RoleAssistant, Text: "hello", Timestamp: base.Add(time.Second)})

	assert.Equal(t, base.Add(2*time.Second), got.Timestamp, "earlier timestamp is lifted to the previous one")
	turns := s.Turns()
	require.Len(t, turns, 2)
	assert.False(t, turns[1].Timestamp.Before(turns[0].Timestamp))
	assert.Equal(t, 1, s.UserTurns())
	assert.Equal(t, base.Add(2*time.Second), s.LastActive())
}

func TestSession_EvictsOldest(t *testing.T) {
	now := time.Now()
	s := NewSession("s1", now, 4)
	for i := 0; i < 6; i++ {
		s.Append(Turn{ID: string(rune('a' + i)), Role: RoleUser, Timestamp: now})
	}

	turns := s.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "c", turns[0].ID)
	assert.Equal(t, "f", turns[3].ID)
	assert.Equal(t, 6, s.UserTurns())
}

func TestSession_TurnsIsCopy(t *testing.T) {
	s := NewSession("s1", time.Now(), 0)
	s.Append(Turn{ID: "1", Text: "original"})

	turns := s.Turns()
	turns[0].Text = "mutated"
	assert.Equal(t, "original", s.Turns()[0].Text)
}

func TestSession_ClearAndEnd(t *testing.T) {
	s := NewSession("s1", time.Now(), 0)
	s.Append(Turn{ID: "1", Role: RoleUser})
	s.SetDocument(&DocumentRef{Filename: "a.pdf"})
	s.End()
	assert.True(t, s.Ended())

	s.Clear()
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Document())
	assert.False(t, s.Ended())
}
