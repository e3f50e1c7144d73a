package server

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// readiness is one snapshot of socket readiness, as fd sets
type readiness struct {
	read  unix.FdSet
	write unix.FdSet
}

// tick runs one iteration of the two-stage polling protocol. It
// returns false when a shutdown request was observed; an error is a
// process-fatal fault.
//
// A TCP socket with free send-buffer space is almost always
// writable, so blocking on write-readiness for every socket every
// tick would return immediately forever. Instead, stage A probes
// current readiness without blocking, stage B blocks only on the
// sockets that can actually make a pair progress.
func (eng *Engine) tick() (bool, error) {
	probe, err := eng.probe()
	if err != nil {
		return false, err
	}

	ready, maxFd, err := eng.wait(probe)
	if err != nil {
		return false, err
	}

	// cooperative shutdown, observed before any other action
	if ready.read.IsSet(eng.wakeRead) {
		var drain [8]byte
		unix.Read(eng.wakeRead, drain[:])
		return false, nil
	}

	// handle an incoming connection if there is one
	if ready.read.IsSet(eng.listener) {
		err = eng.acceptOne()
		if err != nil {
			return false, err
		}
	}

	// merge the stage-A snapshot: readiness observed a moment ago is
	// still valid information, and a socket left out of the interest
	// set must not lose its forwarding opportunity
	for fd := 0; fd <= maxFd; fd++ {
		if probe.read.IsSet(fd) {
			ready.read.Set(fd)
		}
		if probe.write.IsSet(fd) {
			ready.write.Set(fd)
		}
	}

	return true, eng.actions(ready)
}

// probe is stage A: a zero-timeout readiness check of every socket of
// every occupied slot, both for reading and writing
func (eng *Engine) probe() (*readiness, error) {
	probe := &readiness{}

	for {
		probe.read.Zero()
		probe.write.Zero()

		maxFd := 0
		for i := range eng.table.slots {
			occupied, err := eng.table.Occupied(i)
			if err != nil {
				return nil, err
			}
			if !occupied {
				continue
			}

			slot := &eng.table.slots[i]
			probe.read.Set(slot.client)
			probe.write.Set(slot.client)
			probe.read.Set(slot.server)
			probe.write.Set(slot.server)
			maxFd = max(maxFd, max(slot.client, slot.server))
		}

		if maxFd == 0 {
			// no connections, nothing to probe
			return probe, nil
		}

		timeout := unix.Timeval{}
		_, err := unix.Select(maxFd+1, &probe.read, &probe.write, nil, &timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("select error in stage 1: %s", err)
		}

		return probe, nil
	}
}

// wait is stage B: build the interest set from the probe snapshot,
// then block on it indefinitely. Returns the post-wait ready sets and
// the highest descriptor waited on.
func (eng *Engine) wait(probe *readiness) (*readiness, int, error) {
	for {
		interest, maxFd, err := eng.buildInterest(probe)
		if err != nil {
			return nil, 0, err
		}

		n, err := unix.Select(maxFd+1, &interest.read, &interest.write, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("select error in stage 2: %s", err)
		}
		if n == 0 {
			return nil, 0, errors.New("select's infinite timeout just timed out")
		}

		// select left only the ready descriptors in the sets
		return interest, maxFd, nil
	}
}

// buildInterest decides what stage B may legally block on:
//   - a queued backlog wants its destination writable
//   - a socket seen writable with no queued backlog wants its peer
//     readable (the path is unobstructed, watch for data to forward)
//   - a socket seen readable wants its peer writable (prepare to
//     receive what will be drained this tick)
//   - the listening socket, while there is room for another pair
//   - the shutdown pipe, always
func (eng *Engine) buildInterest(probe *readiness) (*readiness, int, error) {
	interest := &readiness{}
	maxFd := eng.wakeRead
	interest.read.Set(eng.wakeRead)

	if eng.table.Active() < eng.config.MaxConnections {
		interest.read.Set(eng.listener)
		maxFd = max(maxFd, eng.listener)
	}

	for i := range eng.table.slots {
		occupied, err := eng.table.Occupied(i)
		if err != nil {
			return nil, 0, err
		}
		if !occupied {
			continue
		}
		slot := &eng.table.slots[i]

		if !slot.toClient.Empty() {
			interest.write.Set(slot.client)
		}
		if !slot.toServer.Empty() {
			interest.write.Set(slot.server)
		}

		if probe.write.IsSet(slot.client) && slot.toClient.Empty() {
			interest.read.Set(slot.server)
		}
		if probe.write.IsSet(slot.server) && slot.toServer.Empty() {
			interest.read.Set(slot.client)
		}

		if probe.read.IsSet(slot.client) {
			interest.write.Set(slot.server)
		}
		if probe.read.IsSet(slot.server) {
			interest.write.Set(slot.client)
		}

		maxFd = max(maxFd, max(slot.client, slot.server))
	}

	return interest, maxFd, nil
}

// actions walks the table and performs every transfer the merged
// ready sets allow. Backlog flushes come first and eat the write
// flag, so a plain forward cannot reorder bytes behind queued data.
func (eng *Engine) actions(ready *readiness) error {
	for i := range eng.table.slots {
		slot := &eng.table.slots[i]

		if slot.client != emptySocket && !slot.toClient.Empty() &&
			ready.write.IsSet(slot.client) {
			ready.write.Clear(slot.client)
			err := eng.flushBacklog(i, towardClient)
			if err != nil {
				return err
			}
		}

		if slot.server != emptySocket && !slot.toServer.Empty() &&
			ready.write.IsSet(slot.server) {
			ready.write.Clear(slot.server)
			err := eng.flushBacklog(i, towardServer)
			if err != nil {
				return err
			}
		}

		// plain forwarding
		occupied, err := eng.table.Occupied(i)
		if err != nil {
			return err
		}
		if occupied && ready.read.IsSet(slot.client) && ready.write.IsSet(slot.server) {
			err = eng.bounce(i, slot.client, slot.server, towardServer)
			if err != nil {
				return err
			}
		}

		occupied, err = eng.table.Occupied(i)
		if err != nil {
			return err
		}
		if occupied && ready.read.IsSet(slot.server) && ready.write.IsSet(slot.client) {
			err = eng.bounce(i, slot.server, slot.client, towardClient)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
