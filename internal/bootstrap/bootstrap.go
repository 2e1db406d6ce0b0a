// Package bootstrap fetches and (optionally) periodically refreshes the
// cluster topology from the "CLUSTER NODES"-shaped reply spec.md §4.2 treats
// as an external facility.
package bootstrap

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shardmux/cluster-proxy/internal/netutil"
	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// Fetch dials addr once, issues the bootstrap topology query, and returns
// the raw node-table text.
func Fetch(addr string, isUnix bool, timeout time.Duration) (string, error) {
	conn, err := netutil.DialBootstrap(addr, isUnix, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	cmd := resp.NewCommand("CLUSTER", "NODES")
	if _, err := conn.Write(cmd.Format()); err != nil {
		return "", fmt.Errorf("bootstrap: write CLUSTER NODES: %w", err)
	}
	reader := resp.NewReplyReader(conn)
	raw, err := reader.ReadRaw()
	if err != nil {
		return "", fmt.Errorf("bootstrap: read CLUSTER NODES reply: %w", err)
	}
	if resp.IsError(raw) {
		return "", fmt.Errorf("bootstrap: CLUSTER NODES: %s", resp.ErrorMessage(raw))
	}
	text, ok := resp.ParseBulkString(raw)
	if !ok {
		return "", fmt.Errorf("bootstrap: CLUSTER NODES did not return a bulk string reply")
	}
	return text, nil
}

// Build fetches and parses the topology in one step, pre-creating the entry
// node for addr so the "myself" line merges into it (spec.md §4.2).
func Build(addr string, isUnix bool, timeout time.Duration) (*topology.Cluster, error) {
	text, err := Fetch(addr, isUnix, timeout)
	if err != nil {
		return nil, err
	}
	host, port := addr, ""
	if !isUnix {
		host, port = splitAddr(addr)
	}
	return topology.BuildFromNodesReply(text, topology.BuildEntryNode(host, port))
}

func splitAddr(addr string) (string, string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return addr, ""
}

// Reloader holds the most recently built topology and collapses concurrent
// refresh requests into a single fetch via singleflight, generalizing the
// teacher's buffered-channel debounce (dispatcher.go's reload-trigger
// channel) to the ecosystem primitive.
//
// Per spec.md §3, "construction happens once ... and is immutable
// afterward": the topology object handed to running workers at startup is
// never mutated or swapped out from under them (that would reopen the
// resharding/MOVED-tracking problem this proxy explicitly leaves out of
// scope, see spec.md §1 Non-goals). Reloader therefore only serves the
// periodic refresh loop in cmd/cluster-proxy and the manual /admin/reload
// inspection endpoint; nothing in the hot path reads Current().
type Reloader struct {
	addr    string
	isUnix  bool
	timeout time.Duration
	group   singleflight.Group
	current atomic.Pointer[topology.Cluster]
}

// NewReloader returns a Reloader seeded with the cluster built at startup.
func NewReloader(addr string, isUnix bool, timeout time.Duration, initial *topology.Cluster) *Reloader {
	r := &Reloader{addr: addr, isUnix: isUnix, timeout: timeout}
	r.current.Store(initial)
	return r
}

// Current returns the most recently fetched topology.
func (r *Reloader) Current() *topology.Cluster {
	return r.current.Load()
}

// TriggerReloadSlots re-fetches the topology, storing the result as Current
// on success. Concurrent callers share one underlying fetch.
func (r *Reloader) TriggerReloadSlots() (*topology.Cluster, error) {
	v, err, _ := r.group.Do("reload", func() (any, error) {
		return Build(r.addr, r.isUnix, r.timeout)
	})
	if err != nil {
		return nil, err
	}
	c := v.(*topology.Cluster)
	r.current.Store(c)
	return c, nil
}

// Handler exposes a manual POST /admin/reload endpoint for operators; it
// never affects the workers already running against the cluster built at
// startup (see the immutability note on Reloader).
func (r *Reloader) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/reload", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c, err := r.TriggerReloadSlots()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, "reloaded: %d nodes\n", len(c.Nodes))
	})
	return mux
}
