package journal

import (
	"context"
	"sync/atomic"

	"github.com/route-share/backend/internal/buffer"
)

// DefaultMemoryCapacity is used when no capacity is configured.
const DefaultMemoryCapacity = 1024

// Memory keeps the most recent entries in a bounded ring.
type Memory struct {
	ring *buffer.Ring[Entry]
	seq  atomic.Int64
}

// NewMemory creates a memory journal holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{ring: buffer.NewRing[Entry](capacity)}
}

// Record appends an entry, assigning it the next id.
func (m *Memory) Record(_ context.Context, entry Entry) error {
	entry.ID = m.seq.Add(1)
	m.ring.Push(entry)
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	return m.ring.Latest(limit), nil
}

// Close clears the journal.
func (m *Memory) Close() error {
	m.ring.Clear()
	return nil
}
