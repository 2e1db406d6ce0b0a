package worker

import (
	"container/list"
	"net"

	"github.com/google/uuid"

	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// client is one accepted connection handled by exactly one worker for its
// whole lifetime (spec.md §4.6: "thread_id = client_id mod num_workers").
// Only the owning worker's single goroutine ever reads or writes the
// fields below; the read goroutine started in readLoop only ever sends
// events back across the channel, it never touches client state directly.
type client struct {
	id   uint64
	conn net.Conn

	// traceID is a process-unique correlation id for this connection's log
	// lines, independent of id (the accept loop's counter value that keys
	// the worker's client map). It has no wire-protocol meaning.
	traceID string

	writer *asyncWriter

	parser *resp.Parser

	// replies is the FIFO of requests this client has issued, in request
	// order, regardless of which node(s) they were routed to. A request
	// is only written back to conn once it and everything ahead of it in
	// this list is stateDone (spec.md §4.7 "collect").
	replies *list.List

	// multiplexed is true while this client shares pools with every other
	// client talking to the same nodes on this worker. false after
	// demotion (spec.md §4.8/§4.9); requests already sent before the
	// demotion keep their original pool (invariant: a pipelined chain
	// never splits across pools).
	multiplexed    bool
	privateCluster *topology.Cluster
	privatePools   map[*topology.Node]*pool

	closed bool
}

func newClient(id uint64, conn net.Conn) *client {
	return &client{
		id:          id,
		conn:        conn,
		traceID:     uuid.NewString(),
		writer:      newAsyncWriter(),
		parser:      resp.NewParser(),
		replies:     list.New(),
		multiplexed: true,
	}
}

// writeOutput queues buf for the client's dedicated writer goroutine and
// returns immediately; it never blocks on the socket. A write failure
// surfaces later as an evClientClosed event from writeClientLoop, not as a
// return value here.
func (c *client) writeOutput(buf []byte) {
	if c.closed || len(buf) == 0 {
		return
	}
	c.writer.enqueue(buf)
}
