package worker

import (
	"container/list"

	"github.com/shardmux/cluster-proxy/internal/backend"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// pool is one real connection to one back-end node, plus the two FIFO lists
// from spec.md §4.6: to_send holds requests waiting for the connection to be
// ready, pending holds requests already written and waiting for their reply
// to come back in order. Grounded on the teacher's BackendServer, which
// keeps the same shape with a single container/list for the in-flight queue
// (proxy/backend.go); this proxy splits it into to_send/pending because a
// pool can be mid-connect with requests queued that haven't been written
// yet, a state the teacher's single-list design folds together.
type pool struct {
	node       *topology.Node
	owner      *client // nil for a shared (multiplexed) pool
	conn       *backend.NodeConn
	writer     *asyncWriter // non-nil exactly while conn is non-nil
	connecting bool
	// gen identifies the current conn's generation. The dedicated reader
	// and writer goroutines both capture gen when they are started, and
	// report it back on failure, so a stale error from a connection
	// already torn down by the other side (read vs. write erroring out
	// around the same disconnect) can be told apart from a fresh one.
	gen uint64
	// retried guards the "at most one reconnect+replay" rule (spec.md §7,
	// TransportReset): set the first time this generation of the
	// connection drops, cleared on the next successful connect.
	retried bool
	toSend  *list.List
	pending *list.List
}

func newPool(node *topology.Node, owner *client) *pool {
	return &pool{node: node, owner: owner, toSend: list.New(), pending: list.New()}
}

func requestsOf(l *list.List) []*request {
	out := make([]*request, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*request))
	}
	return out
}

func (p *pool) depth() int {
	return p.toSend.Len() + p.pending.Len()
}

// drainAll removes every queued or in-flight request from p (toSend first,
// then pending, preserving write order) and returns them so the caller can
// fail them with a single error.
func (p *pool) drainAll() []*request {
	out := make([]*request, 0, p.depth())
	for e := p.toSend.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*request))
	}
	p.toSend.Init()
	for e := p.pending.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*request))
	}
	p.pending.Init()
	return out
}
