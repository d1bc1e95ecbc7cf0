// Package id provides unique ID generation for sessions and turns.
//
//	sid := id.NewUUID()  // e.g., "550e8400-e29b-41d4-a716-446655440000"
//	tid := id.NewULID()  // e.g., "01ARZ3NDEKTSV4RRFFQ69G5FAV"
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator defines the interface for ID generators.
type Generator interface {
	// Generate creates a new unique ID.
	Generate() string
}

// UUIDGenerator generates random UUID v4 strings.
type UUIDGenerator struct{}

// NewUUIDGenerator creates a UUID v4 generator.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Generate implements Generator.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// ULIDGenerator generates lexicographically sortable ULIDs.
// IDs generated within the same millisecond are strictly increasing.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULIDGenerator creates a ULID generator with monotonic entropy.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Generate implements Generator.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var (
	defaultUUID = NewUUIDGenerator()
	defaultULID = NewULIDGenerator()
)

// NewUUID generates a new UUID v4 string.
func NewUUID() string {
	return defaultUUID.Generate()
}

// NewULID generates a new ULID string.
func NewULID() string {
	return defaultULID.Generate()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	return uuid.Validate(s) == nil
}
