package server

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Engine is the single-threaded connection-multiplexing core: the
// connection table, the listening socket and the readiness loop. All
// of its state is touched only by the goroutine running Run, the one
// suspension point being the blocking poll.
type Engine struct {
	config   *AppConfig
	log      *Log
	table    *ConnTable
	wire     wire
	remote   *unix.SockaddrInet4
	listener int
	port     int

	// self-pipe: RequestShutdown writes one byte to wakeWrite, the
	// poll loop sees wakeRead become readable and exits cleanly
	wakeRead  int
	wakeWrite int

	// reused read buffer, sized to the backlog capacity
	scratch []byte
}

// NewEngine resolves the remote address, opens the listening socket
// and prepares an empty connection table
func NewEngine(config *AppConfig, log *Log) (*Engine, error) {
	eng := &Engine{
		config:   config,
		log:      log,
		wire:     unixWire{},
		listener: emptySocket,
		scratch:  make([]byte, config.BacklogSize),
	}
	eng.table = NewConnTable(config.MaxConnections, config.BacklogSize, eng.wire, log)

	var err error
	eng.remote, err = resolveRemote(config.RemoteHost, config.RemotePort)
	if err != nil {
		return nil, err
	}

	eng.listener, err = listenSocket(config.ListenPort, config.MaxConnections)
	if err != nil {
		return nil, err
	}

	eng.port, err = localPort(eng.listener)
	if err != nil {
		eng.Close()
		return nil, err
	}

	pipe := make([]int, 2)
	err = unix.Pipe(pipe)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("can't create shutdown pipe: %s", err)
	}
	eng.wakeRead = pipe[0]
	eng.wakeWrite = pipe[1]

	log.Infof("forwarding port %d to %s:%d", eng.port, config.RemoteHost, config.RemotePort)

	return eng, nil
}

// Port returns the local port the engine listens on
func (eng *Engine) Port() int {
	return eng.port
}

// Run iterates the readiness loop until a shutdown request is
// observed. A non-nil error is a process-fatal fault.
func (eng *Engine) Run() error {
	eng.log.Info("waiting for connections...")

	for {
		again, err := eng.tick()
		if err != nil {
			return err
		}
		if !again {
			break
		}
	}

	eng.shutdownAll()
	return nil
}

// RequestShutdown asks the loop to stop. It is the only Engine method
// safe to call from another goroutine (a signal handler, typically).
func (eng *Engine) RequestShutdown() {
	unix.Write(eng.wakeWrite, []byte{0})
}

// shutdownAll is the full-teardown sequence: shut down and close both
// sockets of every occupied slot, release the backlogs, then close
// the listening socket
func (eng *Engine) shutdownAll() {
	eng.log.Info("shutting down")

	for i := range eng.table.slots {
		slot := &eng.table.slots[i]
		if slot.client == emptySocket && slot.server == emptySocket {
			continue
		}
		eng.wire.Shutdown(slot.client)
		eng.wire.Shutdown(slot.server)
		eng.table.Teardown(i)
	}

	eng.Close()
}

// Close releases the engine's own descriptors (listener and shutdown
// pipe). Safe to call more than once.
func (eng *Engine) Close() {
	if eng.listener != emptySocket {
		unix.Close(eng.listener)
		eng.listener = emptySocket
	}
	if eng.wakeRead != 0 {
		unix.Close(eng.wakeRead)
		unix.Close(eng.wakeWrite)
		eng.wakeRead = 0
		eng.wakeWrite = 0
	}
}
