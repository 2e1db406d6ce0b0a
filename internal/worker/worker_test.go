package worker

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardmux/cluster-proxy/internal/backend"
	"github.com/shardmux/cluster-proxy/internal/config"
	"github.com/shardmux/cluster-proxy/internal/log"
	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// fakeBackend stands in for a Valkey/Redis node: it parses whatever
// multi-bulk requests arrive and answers every one with "+OK\r\n",
// preserving pipelining order.
func fakeBackend(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFake(conn)
		}
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func serveFake(conn net.Conn) {
	defer conn.Close()
	parser := resp.NewParser()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		data := buf[:n]
		for {
			status := parser.Feed(data)
			data = nil
			if status == resp.StatusIncomplete {
				break
			}
			if status == resp.StatusError {
				return
			}
			rest := parser.Rest()
			parser = resp.NewParser()
			if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
				return
			}
			if len(rest) == 0 {
				break
			}
			data = rest
		}
	}
}

func singleNodeCluster(t *testing.T, addr string) *topology.Cluster {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	c := topology.NewCluster()
	n := &topology.Node{Name: "a", Host: host, Port: port}
	c.AddNode(n)
	for s := 0; s < 16384; s++ {
		c.ClaimSlot(s, n)
	}
	return c
}

func newTestWorker(t *testing.T, cluster *topology.Cluster, mode config.MultiplexMode) (*Worker, context.CancelFunc) {
	t.Helper()
	dialer := backend.NewDialer(time.Second, "")
	lg := log.New(log.LevelError, false, false, false)
	w := New(0, dialer, cluster, mode, lg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	return w, cancel
}

func TestWorkerRoutesAndRepliesInOrder(t *testing.T) {
	addr, stop := fakeBackend(t)
	defer stop()
	cluster := singleNodeCluster(t, addr)
	w, cancel := newTestWorker(t, cluster, config.MultiplexAuto)
	defer cancel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	w.Submit(serverConn, 1)

	req := append(resp.NewCommand("GET", "foo").Format(), resp.NewCommand("GET", "bar").Format()...)
	_, err := clientConn.Write(req)
	require.NoError(t, err)

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	var got []byte
	for len(got) < len("+OK\r\n+OK\r\n") {
		n, err := clientConn.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, "+OK\r\n+OK\r\n", string(got))
}

func TestWorkerRejectsUnsupportedCommand(t *testing.T) {
	addr, stop := fakeBackend(t)
	defer stop()
	cluster := singleNodeCluster(t, addr)
	w, cancel := newTestWorker(t, cluster, config.MultiplexAuto)
	defer cancel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	w.Submit(serverConn, 1)

	_, err := clientConn.Write(resp.NewCommand("SUBSCRIBE", "chan").Format())
	require.NoError(t, err)

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "Unsupported command")
}

func TestWorkerRejectsCrossShardQuery(t *testing.T) {
	addrA, stopA := fakeBackend(t)
	defer stopA()
	addrB, stopB := fakeBackend(t)
	defer stopB()

	hostA, portA, _ := net.SplitHostPort(addrA)
	hostB, portB, _ := net.SplitHostPort(addrB)
	cluster := topology.NewCluster()
	nodeA := &topology.Node{Name: "a", Host: hostA, Port: portA}
	nodeB := &topology.Node{Name: "b", Host: hostB, Port: portB}
	cluster.AddNode(nodeA)
	cluster.AddNode(nodeB)
	for s := 0; s < 8192; s++ {
		cluster.ClaimSlot(s, nodeA)
	}
	for s := 8192; s < 16384; s++ {
		cluster.ClaimSlot(s, nodeB)
	}

	w, cancel := newTestWorker(t, cluster, config.MultiplexAuto)
	defer cancel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	w.Submit(serverConn, 1)

	_, err := clientConn.Write(resp.NewCommand("MGET", "foo", "bar").Format())
	require.NoError(t, err)

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "different nodes")
}

// blackholeBackend accepts connections but never reads or writes, so every
// command handed to it sits unacknowledged in its pool's pending list
// instead of draining the instant it is sent.
func blackholeBackend(t *testing.T) (addr string, connCount *int32, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var count int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&count, 1)
			_ = conn
		}
	}()
	return ln.Addr().String(), &count, func() { _ = ln.Close() }
}

func TestWorkerAutoDemotesEveryClientOnSharedBacklog(t *testing.T) {
	addr, connCount, stop := blackholeBackend(t)
	defer stop()
	cluster := singleNodeCluster(t, addr)
	w, cancel := newTestWorker(t, cluster, config.MultiplexAuto)
	defer cancel()

	clientConn1, serverConn1 := net.Pipe()
	defer clientConn1.Close()
	w.Submit(serverConn1, 1)

	clientConn2, serverConn2 := net.Pipe()
	defer clientConn2.Close()
	w.Submit(serverConn2, 2)

	// Client 1 alone pipelines enough GETs to push the shared pool's
	// pending list past demoteThreshold; the backend never acknowledges
	// any of them, so the backlog stays put.
	var pipeline []byte
	for i := 0; i < demoteThreshold+1; i++ {
		pipeline = append(pipeline, resp.NewCommand("GET", "k").Format()...)
	}
	_, err := clientConn1.Write(pipeline)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(connCount) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// Give the worker's maintenance tick time to run checkAutoDemote at
	// least once before client 2 ever issues a request of its own.
	time.Sleep(1200 * time.Millisecond)

	_, err = clientConn2.Write(resp.NewCommand("GET", "k2").Format())
	require.NoError(t, err)

	// Client 2 never accumulated any backlog of its own; it is demoted
	// solely because checkAutoDemote sweeps every client on the worker
	// once the shared pool trips (spec.md §4.8). A demoted client routes
	// through its own private pool, which means a brand new connection to
	// the node rather than reuse of the shared one.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(connCount) >= 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWorkerDemotesUnderAlwaysPolicy(t *testing.T) {
	addr, stop := fakeBackend(t)
	defer stop()
	cluster := singleNodeCluster(t, addr)
	w, cancel := newTestWorker(t, cluster, config.MultiplexAlways)
	defer cancel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	w.Submit(serverConn, 1)

	_, err := clientConn.Write(resp.NewCommand("GET", "foo").Format())
	require.NoError(t, err)
	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", string(buf[:n]))
}
