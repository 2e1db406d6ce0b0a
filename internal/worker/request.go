package worker

import (
	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

type reqState int

const (
	stateRouting reqState = iota
	stateQueued           // sitting in a pool's to_send, waiting for a connection
	stateSent             // written to the backend, sitting in the pool's pending list
	stateDone             // reply (or a local error) is ready to be written to the client
)

// request is one client command in flight through a worker: routed to a
// node, handed to a pool, and eventually matched back to its reply by FIFO
// position in that pool's pending list (spec.md §4.6-§4.7).
type request struct {
	id     uint64
	client *client
	cmd    *resp.Command
	node   *topology.Node
	pool   *pool
	state  reqState

	reply    []byte // raw backend reply bytes, set on stateDone
	localErr []byte // formatted RESP error, set when routing failed locally
}

func (r *request) output() []byte {
	if r.localErr != nil {
		return r.localErr
	}
	return r.reply
}
