package server

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testForwarder runs a real engine on loopback, forwarding to a
// local "remote" listener, in a background goroutine
type testForwarder struct {
	engine  *Engine
	remote  net.Listener
	runErr  chan error
	stopped bool
}

func startForwarder(t *testing.T, maxConnections int, strictFaults bool) *testForwarder {
	t.Helper()

	remote, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	config := NewAppConfig()
	config.ListenPort = 0 // ephemeral
	config.RemoteHost = "127.0.0.1"
	config.RemotePort = remote.Addr().(*net.TCPAddr).Port
	config.MaxConnections = maxConnections
	config.StrictFaults = strictFaults

	engine, err := NewEngine(config, NewLog(false, nil))
	require.NoError(t, err)

	tf := &testForwarder{
		engine: engine,
		remote: remote,
		runErr: make(chan error, 1),
	}
	go func() {
		tf.runErr <- engine.Run()
	}()

	t.Cleanup(func() {
		remote.Close()
		if !tf.stopped {
			tf.stop(t)
		}
	})

	return tf
}

// stop asks for shutdown and waits for the loop to exit
func (tf *testForwarder) stop(t *testing.T) error {
	t.Helper()
	tf.stopped = true
	tf.engine.RequestShutdown()

	select {
	case err := <-tf.runErr:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func (tf *testForwarder) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", tf.engine.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// acceptRemote waits for the forwarded leg to reach the remote server
func (tf *testForwarder) acceptRemote(t *testing.T) net.Conn {
	t.Helper()
	tf.remote.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
	conn, err := tf.remote.Accept()
	require.NoError(t, err, "forwarded connection never reached the remote server")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAll(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestForward_BytesArriveInOrder(t *testing.T) {
	tf := startForwarder(t, 1, false)

	client := tf.dial(t)
	serverConn := tf.acceptRemote(t)

	payload := []byte("0123456789")
	_, err := client.Write(payload)
	require.NoError(t, err)
	require.Equal(t, payload, readAll(t, serverConn, len(payload)))

	// and the reverse path
	reply := []byte("pong")
	_, err = serverConn.Write(reply)
	require.NoError(t, err)
	require.Equal(t, reply, readAll(t, client, len(reply)))
}

func TestForward_LargeTransferBothWays(t *testing.T) {
	tf := startForwarder(t, 2, false)

	client := tf.dial(t)
	serverConn := tf.acceptRemote(t)

	payload := bytes.Repeat([]byte("forward me "), 20000) // ~220 KB

	go func() {
		client.Write(payload)
	}()
	require.Equal(t, payload, readAll(t, serverConn, len(payload)))

	go func() {
		serverConn.Write(payload)
	}()
	require.Equal(t, payload, readAll(t, client, len(payload)))
}

func TestConnectionLimit_SecondClientWaitsForFreeSlot(t *testing.T) {
	tf := startForwarder(t, 1, false)

	first := tf.dial(t)
	tf.acceptRemote(t)

	// the listener is not watched while at capacity, so a second
	// client must not be forwarded yet
	second := tf.dial(t)
	tf.remote.(*net.TCPListener).SetDeadline(time.Now().Add(300 * time.Millisecond))
	_, err := tf.remote.Accept()
	require.Error(t, err, "second connection must not be forwarded at capacity")

	// sanity: the first pair still works
	first.Write([]byte("hi"))

	// freeing the slot lets the pending client in
	first.Close()
	serverConn2 := tf.acceptRemote(t)

	second.Write([]byte("mine"))
	require.Equal(t, []byte("mine"), readAll(t, serverConn2, 4))
}

func TestClientClose_TearsDownServerLeg(t *testing.T) {
	tf := startForwarder(t, 1, false)

	client := tf.dial(t)
	serverConn := tf.acceptRemote(t)

	client.Close()

	serverConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := serverConn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF, "server leg must be closed when the client goes away")
}

func TestServerClose_TearsDownClientLeg(t *testing.T) {
	tf := startForwarder(t, 1, false)

	client := tf.dial(t)
	serverConn := tf.acceptRemote(t)

	serverConn.Close()
	// teardown happens when the engine notices the dead leg
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := client.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF, "client leg must be closed when the server goes away")
}

func TestShutdown_ClosesEveryConnection(t *testing.T) {
	tf := startForwarder(t, 5, false)

	var clients []net.Conn
	var serverConns []net.Conn
	for i := 0; i < 2; i++ {
		clients = append(clients, tf.dial(t))
		serverConns = append(serverConns, tf.acceptRemote(t))
	}

	require.NoError(t, tf.stop(t), "signal-triggered shutdown must be clean")

	for _, conn := range append(clients, serverConns...) {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := conn.Read(make([]byte, 1))
		require.Error(t, err, "every socket must be closed on shutdown")
	}
}

func TestConnectFailure_LenientDropsConnection(t *testing.T) {
	tf := startForwarder(t, 1, false)

	// kill the remote server: outbound connects now fail
	tf.remote.Close()

	client := tf.dial(t)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := client.Read(make([]byte, 1))
	require.Error(t, err, "client must be dropped when the outbound connect fails")

	// the process survives and shuts down cleanly
	require.NoError(t, tf.stop(t))
}

func TestConnectFailure_StrictIsFatal(t *testing.T) {
	tf := startForwarder(t, 1, true)
	tf.stopped = true // Run exits on its own

	tf.remote.Close()
	tf.dial(t)

	select {
	case err := <-tf.runErr:
		require.Error(t, err, "strict faults: a failed outbound connect must be fatal")
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not fail")
	}
}
