package worker

import (
	"github.com/shardmux/cluster-proxy/internal/config"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// maybeDemote applies the immediate half of the --disable-multiplexing
// policy before a new request is routed: "always" demotes c on its first
// use, "never" never demotes. The "auto" policy is not decided per-client
// or per-request here; it is evaluated worker-wide in checkAutoDemote
// against the shared pools' queue depth (spec.md §4.8).
//
// Invariant (spec.md §3): a pipelined chain never splits across pools.
// Demotion only changes where *future* requests are enqueued; requests
// already sitting in a shared pool's to_send/pending keep that pool and are
// matched to their reply there regardless of c.multiplexed's later value.
func (w *Worker) maybeDemote(c *client) {
	if !c.multiplexed {
		return
	}
	switch w.mode {
	case config.MultiplexAlways:
		w.demote(c)
	case config.MultiplexNever:
		return
	}
}

// checkAutoDemote implements the "auto" policy's worker-wide threshold
// (spec.md §4.8, SPEC_FULL.md §4.8): once any shared pool's to_send or
// pending queue reaches demoteThreshold, every still-multiplexed client on
// this worker is demoted, mirroring disableMultiplexingForClient's sweep in
// the original proxy's beforeThreadSleep, which trips off the shared pool's
// queue depth and demotes every client on the thread, not only whichever
// one happened to submit the request that tipped the queue over.
func (w *Worker) checkAutoDemote() {
	if w.mode != config.MultiplexAuto {
		return
	}
	tripped := false
	for _, p := range w.sharedPools {
		if p.toSend.Len() >= demoteThreshold || p.pending.Len() >= demoteThreshold {
			tripped = true
			break
		}
	}
	if !tripped {
		return
	}
	for _, c := range w.clients {
		w.demote(c)
	}
}

func (w *Worker) demote(c *client) {
	if !c.multiplexed {
		return
	}
	c.multiplexed = false
	c.privateCluster = w.cluster.CloneForClient()
	c.privatePools = make(map[*topology.Node]*pool)
	if w.metrics != nil {
		w.metrics.IncDemotions()
	}
	w.log.Debugf("worker %d: client %d (%s) demoted to a private connection pool", w.ID, c.id, c.traceID)
}

// poolFor resolves the pool a request to node should use: the worker-wide
// shared pool while c is multiplexed, or a lazily created entry in c's own
// private pool map after demotion, keyed by the equivalent node in c's
// cloned private topology so a demoted client never touches a shared
// NodeConn again.
func (w *Worker) poolFor(c *client, node *topology.Node) *pool {
	if c.multiplexed {
		p, ok := w.sharedPools[node]
		if !ok {
			p = newPool(node, nil)
			w.sharedPools[node] = p
		}
		return p
	}
	target := c.privateCluster.NodeOfName(node.Name)
	if target == nil {
		target = node
	}
	p, ok := c.privatePools[target]
	if !ok {
		p = newPool(target, c)
		c.privatePools[target] = p
	}
	return p
}
