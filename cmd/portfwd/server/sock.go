package server

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// emptySocket marks an unused socket handle in a Slot
const emptySocket = -1

// wire abstracts the raw transfer calls on an established socket, so
// the forwarding paths can be exercised against scripted sockets
type wire interface {
	Recv(fd int, buf []byte) (int, error)
	Send(fd int, buf []byte) (int, error)
	Close(fd int) error
	Shutdown(fd int) error
}

// unixWire is the real thing. Sockets are always in non-blocking
// mode, so reads and writes never park the engine thread.
type unixWire struct{}

func (unixWire) Recv(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func (unixWire) Send(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func (unixWire) Close(fd int) error {
	return unix.Close(fd)
}

func (unixWire) Shutdown(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}

// listenSocket creates the incoming socket: non-blocking, REUSEADDR,
// bound to the given local port
func listenSocket(port int, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return emptySocket, fmt.Errorf("problem creating incoming socket: %s", err)
	}

	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		unix.Close(fd)
		return emptySocket, fmt.Errorf("can't REUSEADDR: %s", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	err = unix.Bind(fd, addr)
	if err != nil {
		unix.Close(fd)
		if os.Getuid() != 0 && port < 1024 {
			return emptySocket, fmt.Errorf("problem binding incoming socket: %s (you need to be root to bind to a port under 1024)", err)
		}
		return emptySocket, fmt.Errorf("problem binding incoming socket: %s (maybe it's already in use?)", err)
	}

	err = unix.Listen(fd, backlog)
	if err != nil {
		unix.Close(fd)
		return emptySocket, fmt.Errorf("problem listening to incoming socket: %s", err)
	}

	err = unix.SetNonblock(fd, true)
	if err != nil {
		unix.Close(fd)
		return emptySocket, err
	}

	return fd, nil
}

// localPort returns the port a socket is bound to (useful when the
// configured listen port was 0)
func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}

	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("unexpected socket address family")
	}
	return inet4.Port, nil
}

// resolveRemote translates host:port to the address outbound
// connections are made to, once, at startup
func resolveRemote(host string, port int) (*unix.SockaddrInet4, error) {
	addr, err := net.ResolveTCPAddr("tcp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("can't resolve '%s': %s", host, err)
	}

	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("'%s' does not resolve to an IPv4 address", host)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

// connectRemote creates the outgoing socket and connects it to the
// remote server, then switches it to non-blocking mode
func connectRemote(remote *unix.SockaddrInet4) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return emptySocket, fmt.Errorf("problem creating outgoing socket: %s", err)
	}

	err = unix.Connect(fd, remote)
	if err != nil {
		unix.Close(fd)
		return emptySocket, fmt.Errorf("problem connecting outgoing socket: %s", err)
	}

	err = unix.SetNonblock(fd, true)
	if err != nil {
		unix.Close(fd)
		return emptySocket, err
	}

	return fd, nil
}

// peerString formats an accepted peer address for logging
func peerString(sa unix.Sockaddr) string {
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "?"
	}
	ip := net.IP(inet4.Addr[:])
	return fmt.Sprintf("%s:%d", ip.String(), inet4.Port)
}
