package server

import (
	"errors"
	"fmt"
)

// ErrBacklogFull means a connection was unable to drain its backlog
// for too long relative to the configured capacity
var ErrBacklogFull = errors.New("backlog capacity exceeded")

// Backlog is a bounded byte queue absorbing the bytes a destination
// socket could not accept in one send. Queued data is contiguous,
// starting at the read cursor.
type Backlog struct {
	buf   []byte
	start int
	size  int
}

// NewBacklog creates an empty Backlog of the given capacity
func NewBacklog(capacity int) *Backlog {
	return &Backlog{
		buf: make([]byte, capacity),
	}
}

// Size returns the number of queued bytes
func (bl *Backlog) Size() int {
	return bl.size
}

// Empty returns true if no bytes are queued
func (bl *Backlog) Empty() bool {
	return bl.size == 0
}

// Enqueue appends data after the currently queued bytes
func (bl *Backlog) Enqueue(data []byte) error {
	if bl.start+bl.size+len(data) > len(bl.buf) {
		return fmt.Errorf("%w (%d bytes)", ErrBacklogFull, len(bl.buf))
	}

	copy(bl.buf[bl.start+bl.size:], data)
	bl.size += len(data)
	return nil
}

// Pending returns the queued bytes, in order
func (bl *Backlog) Pending() []byte {
	return bl.buf[bl.start : bl.start+bl.size]
}

// Advance consumes n queued bytes after a successful send. The buffer
// is fully reclaimed when it empties, otherwise the read cursor moves
// forward and the remaining bytes stay contiguous.
func (bl *Backlog) Advance(n int) {
	bl.size -= n

	if bl.size == 0 {
		bl.start = 0
	} else {
		bl.start += n
	}
}

// Reset empties the buffer
func (bl *Backlog) Reset() {
	bl.start = 0
	bl.size = 0
}
