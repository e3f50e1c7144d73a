package server

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// acceptOne turns a ready listening socket into a new table entry
// plus an outbound connection. At most one connection is accepted per
// loop iteration.
func (eng *Engine) acceptOne() error {
	incoming, sa, err := unix.Accept(eng.listener)
	if err != nil {
		// transient, drop the attempt
		eng.log.Warningf("accept failed: %s", err)
		return nil
	}

	// the poll loop gates the listener on capacity, so this should
	// not happen
	if eng.table.Active() >= eng.config.MaxConnections {
		eng.log.Error("maximum connection limit reached, this should not happen!")
		eng.wire.Close(incoming)
		return nil
	}

	err = unix.SetNonblock(incoming, true)
	if err != nil {
		eng.wire.Close(incoming)
		return nil
	}

	index, err := eng.table.Allocate()
	if err != nil {
		// an empty slot was supposed to be guaranteed
		return fmt.Errorf("%s (active=%d)", err, eng.table.Active())
	}

	outgoing, err := connectRemote(eng.remote)
	if err != nil {
		if eng.config.StrictFaults {
			return err
		}
		eng.log.Errorf("%s, dropping connection", err)
		eng.wire.Close(incoming)
		return nil
	}

	eng.table.Occupy(index, incoming, outgoing)
	eng.log.Tracef("got a connection from %s. active=%d", peerString(sa), eng.table.Active())

	return nil
}
