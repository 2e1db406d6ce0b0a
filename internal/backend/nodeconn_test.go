package backend

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardmux/cluster-proxy/internal/topology"
)

func listenOnce(t *testing.T, handle func(net.Conn)) (host, port string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	h, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return h, p, func() { _ = ln.Close() }
}

func TestConnectAppliesNoAuth(t *testing.T) {
	host, port, stop := listenOnce(t, func(conn net.Conn) {
		defer conn.Close()
		// Nothing expected to be written; just keep the connection open
		// long enough for the test to observe a successful Connect.
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	})
	defer stop()

	d := NewDialer(time.Second, "")
	node := &topology.Node{Host: host, Port: port}
	nc, err := d.Connect(node)
	require.NoError(t, err)
	require.NotNil(t, nc)
	defer nc.Close()
}

func TestConnectAuthenticates(t *testing.T) {
	host, port, stop := listenOnce(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "*2\r", line[:len(line)-1]) // multi-bulk header for AUTH <secret>
		// Drain the rest of the AUTH command, then answer +OK.
		for i := 0; i < 4; i++ {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
		_, _ = conn.Write([]byte("+OK\r\n"))
	})
	defer stop()

	d := NewDialer(time.Second, "hunter2")
	node := &topology.Node{Host: host, Port: port}
	nc, err := d.Connect(node)
	require.NoError(t, err)
	require.NotNil(t, nc)
	defer nc.Close()
}

func TestConnectFailsOnAuthError(t *testing.T) {
	host, port, stop := listenOnce(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for i := 0; i < 5; i++ {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
		_, _ = conn.Write([]byte("-WRONGPASS invalid auth\r\n"))
	})
	defer stop()

	d := NewDialer(time.Second, "hunter2")
	node := &topology.Node{Host: host, Port: port}
	_, err := d.Connect(node)
	require.Error(t, err)
}

func TestConnectFailsOnUnreachableNode(t *testing.T) {
	d := NewDialer(100*time.Millisecond, "")
	node := &topology.Node{Host: "127.0.0.1", Port: "1"}
	_, err := d.Connect(node)
	require.Error(t, err)
}
