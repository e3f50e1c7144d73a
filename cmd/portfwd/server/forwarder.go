package server

import (
	"errors"

	"github.com/c2h5oh/datasize"
)

// bounce does one opportunistic transfer for a connection pair: read
// what the source has, write as much as the destination takes right
// now, and backlog the rest. The caller guarantees src was seen
// readable and dst writable.
//
// A read or write returning no bytes kills the whole slot: a
// forwarding pair is not useful once either leg breaks.
func (eng *Engine) bounce(index int, src int, dst int, dir direction) error {
	slot := &eng.table.slots[index]

	recvd, err := eng.wire.Recv(src, eng.scratch)
	if recvd < 1 || err != nil {
		eng.log.Tracef("connection %d: recv returned %d (%s)", index, recvd, errString(err))
		eng.table.Teardown(index)
		return nil
	}

	sent, err := eng.wire.Send(dst, eng.scratch[:recvd])
	if sent < 1 || err != nil {
		eng.log.Tracef("connection %d: send returned %d (%s)", index, sent, errString(err))
		eng.table.Teardown(index)
		return nil
	}

	eng.log.Tracef("connection %d: recvd %d and sent %d", index, recvd, sent)

	if sent < recvd {
		return eng.addBacklog(index, slot, dir, eng.scratch[sent:recvd])
	}

	return nil
}

// addBacklog queues unsent bytes for a direction. Overflow is either
// process-fatal (strict faults, the historical behavior) or kills
// just this connection.
func (eng *Engine) addBacklog(index int, slot *Slot, dir direction, data []byte) error {
	backlog := slot.backlog(dir)

	err := backlog.Enqueue(data)
	if err != nil {
		if eng.config.StrictFaults {
			return errors.New("backlog for connection exceeded " +
				(datasize.ByteSize(eng.config.BacklogSize) * datasize.B).String())
		}
		eng.log.Errorf("connection %d: %s, closing", index, err)
		eng.table.Teardown(index)
		return nil
	}

	eng.log.Tracef("backlogged %d bytes (%d total) for connection %d",
		len(data), backlog.Size(), index)
	return nil
}

// flushBacklog tries to drain one direction's backlog. Only called
// when the destination socket has been observed writable.
func (eng *Engine) flushBacklog(index int, dir direction) error {
	slot := &eng.table.slots[index]
	backlog := slot.backlog(dir)
	fd := slot.socket(dir)

	sent, err := eng.wire.Send(fd, backlog.Pending())
	if sent < 1 || err != nil {
		eng.log.Tracef("connection %d: backlog send returned %d (%s)", index, sent, errString(err))
		eng.table.Teardown(index)
		return nil
	}

	eng.log.Tracef("connection %d: sent %d of %d backlog", index, sent, backlog.Size())
	backlog.Advance(sent)
	return nil
}

func errString(err error) string {
	if err == nil {
		return "no error"
	}
	return err.Error()
}
