// Package srrece implements the per-connection receive buffer: a
// bounded FIFO of accepted payloads decoded from Data/RetrData PDUs,
// delivered to the application in insertion order (spec.md §4.3).
// Same ring-buffer lineage as srsend/internal/fifo.Fifo, holding
// already-decoded []byte payloads instead of raw PDUs since nothing
// downstream of the receive pipeline needs the header again.
package srrece

import (
	"errors"
	"fmt"
	"sync"
)

// ErrEmpty is returned by Read when the buffer holds nothing.
var ErrEmpty = errors.New("srrece: buffer empty")

// Buffer is one connection's receive buffer.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  [][]byte
}

// New returns an empty receive buffer of the given capacity
// (n_send_max, per spec.md §4.3).
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Add appends a decoded payload. A full buffer is a programming
// error - callers must check FreeEntries first.
func (b *Buffer) Add(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		panic(fmt.Sprintf("srrece: Add on full buffer (capacity %d)", b.capacity))
	}
	b.entries = append(b.entries, payload)
}

// Read dequeues the oldest payload.
func (b *Buffer) Read() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil, ErrEmpty
	}
	payload := b.entries[0]
	b.entries = b.entries[1:]
	return payload, nil
}

// UsedEntries returns the number of buffered payloads.
func (b *Buffer) UsedEntries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// FreeEntries returns the remaining capacity.
func (b *Buffer) FreeEntries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity - len(b.entries)
}
