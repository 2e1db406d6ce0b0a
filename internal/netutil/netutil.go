// Package netutil holds the low-level socket helpers spec.md §1 describes
// as thin adapters: dialing the bootstrap connection (TCP or UNIX) and
// opening the client-facing listener.
package netutil

import (
	"fmt"
	"net"
	"time"
)

// DialBootstrap opens the connection used once at startup to fetch the
// cluster topology, over TCP or a UNIX socket depending on isUnix.
func DialBootstrap(addr string, isUnix bool, timeout time.Duration) (net.Conn, error) {
	network := "tcp"
	if isUnix {
		network = "unix"
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("netutil: dial %s %s: %w", network, addr, err)
	}
	return conn, nil
}

// Listen opens the proxy's client-facing TCP listener.
func Listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("netutil: listen :%d: %w", port, err)
	}
	return ln, nil
}
