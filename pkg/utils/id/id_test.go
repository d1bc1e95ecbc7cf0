package id

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUUID(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsUUID(a))
	assert.False(t, IsUUID("not-a-uuid"))
}

func TestNewULID_Monotonic(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewULID()
	}

	assert.Len(t, ids[0], 26)
	assert.True(t, sort.StringsAreSorted(ids), "ULIDs should be generated in increasing order")

	seen := make(map[string]struct{}, len(ids))
	for _, v := range ids {
		seen[v] = struct{}{}
	}
	assert.Len(t, seen, len(ids))
}
