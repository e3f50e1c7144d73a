package server

import (
	"errors"
	"fmt"
)

// direction selects one half of a forwarding pair: which backlog
// absorbs a partial write
type direction int

const (
	// towardClient is for bytes flowing server → client
	towardClient direction = iota
	// towardServer is for bytes flowing client → server
	towardServer
)

// ErrTableFull means no empty slot was found, which the acceptor is
// supposed to have ruled out beforehand
var ErrTableFull = errors.New("couldn't enqueue connection")

// Slot is one forwarding pair: the client-side and server-side socket
// handles, plus one backlog per direction. Both handles are either
// valid or empty, never one of each.
type Slot struct {
	client   int
	server   int
	toClient *Backlog
	toServer *Backlog
}

func (slot *Slot) backlog(dir direction) *Backlog {
	if dir == towardClient {
		return slot.toClient
	}
	return slot.toServer
}

func (slot *Slot) socket(dir direction) int {
	if dir == towardClient {
		return slot.client
	}
	return slot.server
}

// ConnTable is the fixed arena of connection slots. It exclusively
// owns every socket handle and backlog it contains.
type ConnTable struct {
	slots  []Slot
	active int
	wire   wire
	log    *Log
}

// NewConnTable creates a table of empty slots
func NewConnTable(maxConnections int, backlogSize int, w wire, log *Log) *ConnTable {
	table := &ConnTable{
		slots: make([]Slot, maxConnections),
		wire:  w,
		log:   log,
	}

	for i := range table.slots {
		table.slots[i].client = emptySocket
		table.slots[i].server = emptySocket
		table.slots[i].toClient = NewBacklog(backlogSize)
		table.slots[i].toServer = NewBacklog(backlogSize)
	}

	return table
}

// Active returns the number of occupied slots
func (ct *ConnTable) Active() int {
	return ct.active
}

// Occupied tells if a slot holds a connection pair. A slot with
// exactly one valid handle is an internal inconsistency and comes
// back as an error (process-fatal for the caller).
func (ct *ConnTable) Occupied(index int) (bool, error) {
	slot := &ct.slots[index]

	if slot.client != emptySocket && slot.server != emptySocket {
		return true, nil
	}

	if slot.client != emptySocket || slot.server != emptySocket {
		return false, fmt.Errorf("internal inconsistency! slot %d: client=%d, server=%d",
			index, slot.client, slot.server)
	}

	return false, nil
}

// Allocate scans for the first empty slot and returns its index
func (ct *ConnTable) Allocate() (int, error) {
	for i := range ct.slots {
		if ct.slots[i].client == emptySocket && ct.slots[i].server == emptySocket {
			return i, nil
		}
	}
	return -1, ErrTableFull
}

// Occupy stores both socket handles into a slot, as a single update,
// and accounts for the new connection
func (ct *ConnTable) Occupy(index int, client int, server int) {
	slot := &ct.slots[index]
	slot.client = client
	slot.server = server
	ct.active++
}

// Teardown closes both sockets of a slot (close errors are ignored),
// resets both backlogs and frees the slot. Must only be called on an
// occupied slot.
func (ct *ConnTable) Teardown(index int) {
	slot := &ct.slots[index]

	ct.wire.Close(slot.client)
	ct.wire.Close(slot.server)

	slot.toClient.Reset()
	slot.toServer.Reset()

	slot.client = emptySocket
	slot.server = emptySocket

	ct.active--
	ct.log.Tracef("connection %d closed. active=%d", index, ct.active)
}
