package server

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// EventRing keeps the most recent log lines in a ring buffer that
// overflows when full, so a fatal fault can dump some context even
// when the process was not running in verbose mode.
type EventRing struct {
	rb    *ringbuffer.RingBuffer
	mutex sync.Mutex
}

// NewEventRing creates a new EventRing of the given byte size
func NewEventRing(size int) *EventRing {
	return &EventRing{
		rb: ringbuffer.New(size),
	}
}

// Append adds a log line to the ring, dropping the oldest data when full
func (er *EventRing) Append(line string) {
	er.mutex.Lock()
	defer er.mutex.Unlock()

	data := []byte(line + "\n")
	if len(data) > er.rb.Capacity() {
		data = data[len(data)-er.rb.Capacity():]
	}

	if er.rb.Free() < len(data) {
		trash := make([]byte, len(data)-er.rb.Free())
		er.rb.Read(trash)
	}

	er.rb.Write(data)
}

// Dump returns the buffered lines and empties the ring
func (er *EventRing) Dump() string {
	er.mutex.Lock()
	defer er.mutex.Unlock()

	data := make([]byte, er.rb.Length())
	er.rb.Read(data)
	return string(data)
}
