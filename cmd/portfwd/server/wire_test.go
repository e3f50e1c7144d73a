package server

import (
	"errors"
)

// fakeWire scripts socket behavior per descriptor, so transfer paths
// can be tested with exact byte counts.
type fakeWire struct {
	// queued payloads returned by Recv, per fd; an empty queue
	// reads as EOF
	recvQueue map[int][][]byte
	// maximum bytes a single Send accepts, per fd (0 = unlimited)
	sendLimit map[int]int
	// fds whose Send fails outright
	sendBroken map[int]bool
	// everything successfully sent, per fd, in order
	sent   map[int][]byte
	closed map[int]bool
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		recvQueue:  make(map[int][][]byte),
		sendLimit:  make(map[int]int),
		sendBroken: make(map[int]bool),
		sent:       make(map[int][]byte),
		closed:     make(map[int]bool),
	}
}

func (fw *fakeWire) queueRecv(fd int, data []byte) {
	fw.recvQueue[fd] = append(fw.recvQueue[fd], data)
}

func (fw *fakeWire) Recv(fd int, buf []byte) (int, error) {
	queue := fw.recvQueue[fd]
	if len(queue) == 0 {
		return 0, nil // peer closed
	}
	data := queue[0]
	fw.recvQueue[fd] = queue[1:]
	return copy(buf, data), nil
}

func (fw *fakeWire) Send(fd int, buf []byte) (int, error) {
	if fw.sendBroken[fd] {
		return -1, errors.New("broken pipe")
	}
	n := len(buf)
	if limit := fw.sendLimit[fd]; limit > 0 && n > limit {
		n = limit
	}
	fw.sent[fd] = append(fw.sent[fd], buf[:n]...)
	return n, nil
}

func (fw *fakeWire) Close(fd int) error {
	fw.closed[fd] = true
	return nil
}

func (fw *fakeWire) Shutdown(fd int) error {
	return nil
}

// testEngine builds an engine over a fakeWire, without any real
// socket or listener
func testEngine(config *AppConfig, fw *fakeWire) *Engine {
	log := NewLog(false, nil)
	eng := &Engine{
		config:   config,
		log:      log,
		wire:     fw,
		listener: emptySocket,
		scratch:  make([]byte, config.BacklogSize),
	}
	eng.table = NewConnTable(config.MaxConnections, config.BacklogSize, fw, log)
	return eng
}

func testConfig() *AppConfig {
	config := NewAppConfig()
	config.ListenPort = 8000
	config.RemoteHost = "127.0.0.1"
	config.RemotePort = 9000
	return config
}
