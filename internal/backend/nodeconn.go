// Package backend manages the transport to a single back-end shard node:
// dialing, authentication, and the socket options spec.md §4.3 calls for.
// One NodeConn exists per (node, worker) pair for the shared pool, or a
// single NodeConn per clone for a demoted client's private pool.
package backend

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

const keepaliveInterval = 15 * time.Second

// NodeConn is one live TCP connection to a back-end node, with a buffered
// reply reader attached.
type NodeConn struct {
	Conn   net.Conn
	Reader *resp.ReplyReader
}

// Dialer opens NodeConns, applying the connect timeout, keepalive, and
// optional AUTH handshake shared by every connection the proxy opens to a
// back-end, whether shared or cloned (spec.md §4.3).
type Dialer struct {
	ConnectTimeout time.Duration
	AuthSecret     string
}

// NewDialer returns a Dialer with the given connect timeout and optional
// back-end authentication secret (empty disables AUTH).
func NewDialer(connectTimeout time.Duration, authSecret string) *Dialer {
	return &Dialer{ConnectTimeout: connectTimeout, AuthSecret: authSecret}
}

// Connect serializes on node's per-node mutex (the one lock on the proxy's
// data path, per spec.md §5), dials node.Addr(), applies TCP_NODELAY and
// SO_KEEPALIVE, and issues AUTH if configured. It never panics; failures are
// returned as an error and the caller leaves its connection slot nil.
func (d *Dialer) Connect(node *topology.Node) (*NodeConn, error) {
	node.Lock()
	defer node.Unlock()
	return d.connectLocked(node)
}

func (d *Dialer) connectLocked(node *topology.Node) (*NodeConn, error) {
	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := dialer.Dial("tcp", node.Addr())
	if err != nil {
		return nil, fmt.Errorf("backend: dial %s: %w", node.Addr(), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepaliveInterval)
	}
	nc := &NodeConn{
		Conn:   conn,
		Reader: resp.NewReplyReader(bufio.NewReaderSize(conn, 16*1024)),
	}
	if d.AuthSecret != "" {
		if err := nc.authenticate(d.AuthSecret); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return nc, nil
}

func (nc *NodeConn) authenticate(secret string) error {
	cmd := resp.NewCommand("AUTH", secret)
	if _, err := nc.Conn.Write(cmd.Format()); err != nil {
		return fmt.Errorf("backend: write AUTH: %w", err)
	}
	raw, err := nc.Reader.ReadRaw()
	if err != nil {
		return fmt.Errorf("backend: read AUTH reply: %w", err)
	}
	if resp.IsError(raw) {
		return fmt.Errorf("backend: AUTH failed: %s", resp.ErrorMessage(raw))
	}
	return nil
}

// Write writes buf in full to the connection.
func (nc *NodeConn) Write(buf []byte) (int, error) {
	return nc.Conn.Write(buf)
}

// Close closes the underlying connection.
func (nc *NodeConn) Close() error {
	return nc.Conn.Close()
}
