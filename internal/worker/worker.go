// Package worker implements the single-threaded-per-worker event loop of
// spec.md §4.6-§4.9: request parsing, routing, the shared/private connection
// pools, and the multiplexing demotion policy. Every piece of mutable state
// owned by a Worker (its clients, its shared pools, a client's private
// pools) is touched by exactly one goroutine, Worker.Run's event loop;
// everything else only ever feeds that loop through channels, the
// goroutine-based analogue of the single-threaded reactor the original
// proxy runs per thread (see DESIGN.md Open Question 1).
package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/shardmux/cluster-proxy/internal/backend"
	"github.com/shardmux/cluster-proxy/internal/config"
	"github.com/shardmux/cluster-proxy/internal/log"
	"github.com/shardmux/cluster-proxy/internal/metrics"
	"github.com/shardmux/cluster-proxy/internal/resp"
	"github.com/shardmux/cluster-proxy/internal/router"
	"github.com/shardmux/cluster-proxy/internal/topology"
)

// demoteThreshold is the shared pool queue depth (to_send or pending) that
// trips the "auto" policy, demoting every multiplexed client on the worker
// to a private pool, mirroring the original proxy's fixed threshold for
// disableMultiplexingForClient.
const demoteThreshold = 5

type eventKind int

const (
	evNewClient eventKind = iota
	evClientData
	evClientClosed
	evPoolConnected
	evBackendData
	evPoolClosed
	evPoolWriteErr
)

type event struct {
	kind eventKind

	client *client
	data   []byte
	err    error

	pool *pool
	conn *backend.NodeConn
	gen  uint64

	newConn net.Conn
	newID   uint64
}

// Worker owns one event loop, a fixed slice of clients, and the shared
// connection pools those clients multiplex over.
type Worker struct {
	ID int

	dialer  *backend.Dialer
	cluster *topology.Cluster
	mode    config.MultiplexMode
	log     *log.Logger
	metrics *metrics.Metrics

	// OnClientClosed, if set, is invoked (off the event-loop goroutine is
	// NOT safe; it is called from the loop itself) once a client's
	// connection has been fully torn down, letting the accept layer track
	// its own soft client cap without Worker importing it.
	OnClientClosed func()

	events chan event

	clients     map[uint64]*client
	sharedPools map[*topology.Node]*pool

	nextReqID uint64
}

// New returns a Worker ready to Run. cluster is the shared, bootstrap-built
// topology; it is read-only from every worker's perspective (spec.md §3).
func New(id int, dialer *backend.Dialer, cluster *topology.Cluster, mode config.MultiplexMode, lg *log.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		ID:          id,
		dialer:      dialer,
		cluster:     cluster,
		mode:        mode,
		log:         lg,
		metrics:     m,
		events:      make(chan event, 256),
		clients:     make(map[uint64]*client),
		sharedPools: make(map[*topology.Node]*pool),
	}
}

// Submit hands a freshly accepted connection to this worker. Safe to call
// from any goroutine; the handoff itself happens on the event loop.
func (w *Worker) Submit(conn net.Conn, id uint64) {
	w.events <- event{kind: evNewClient, newConn: conn, newID: id}
}

// Run drives the event loop until ctx is cancelled (process shutdown) or
// events is closed.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			w.handle(ev)
		case <-ticker.C:
			w.beforeSleep()
		}
	}
}

// beforeSleep is the periodic maintenance tick, the channel-based analogue
// of the original proxy's beforeThreadSleep hook: it runs the worker-wide
// "auto" demotion sweep (see checkAutoDemote in demote.go) and refreshes
// queue-depth metrics.
func (w *Worker) beforeSleep() {
	w.checkAutoDemote()
	if w.metrics == nil {
		return
	}
	total := 0
	for _, p := range w.sharedPools {
		total += p.depth()
	}
	for _, c := range w.clients {
		for _, p := range c.privatePools {
			total += p.depth()
		}
	}
	w.metrics.SetQueueDepth(w.ID, float64(total))
}

func (w *Worker) handle(ev event) {
	switch ev.kind {
	case evNewClient:
		w.onNewClient(ev.newConn, ev.newID)
	case evClientData:
		w.onClientData(ev.client, ev.data)
	case evClientClosed:
		w.onClientClosed(ev.client)
	case evPoolConnected:
		w.onPoolConnected(ev.pool, ev.conn, ev.err)
	case evBackendData:
		w.onBackendData(ev.pool, ev.data)
	case evPoolClosed:
		w.onPoolClosed(ev.pool, ev.gen, ev.err)
	case evPoolWriteErr:
		w.onPoolWriteErr(ev.pool, ev.gen, ev.err)
	}
}

func (w *Worker) onNewClient(conn net.Conn, id uint64) {
	c := newClient(id, conn)
	w.clients[id] = c
	w.log.Debugf("worker %d: client %d (%s) connected", w.ID, c.id, c.traceID)
	if w.metrics != nil {
		w.metrics.IncClients()
	}
	go w.readClientLoop(c)
	go w.writeClientLoop(c)
}

// writeClientLoop is the dedicated writer goroutine for c's socket; it is
// the write-side analogue of readClientLoop. A write error is reported back
// as an evClientClosed event exactly like a read error, so closeClient only
// has one path to worry about.
func (w *Worker) writeClientLoop(c *client) {
	write := func(buf []byte) error {
		_, err := c.conn.Write(buf)
		return err
	}
	c.writer.run(write, func(err error) {
		w.events <- event{kind: evClientClosed, client: c, err: err}
	})
}

func (w *Worker) readClientLoop(c *client) {
	buf := make([]byte, 16*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			w.events <- event{kind: evClientData, client: c, data: chunk}
		}
		if err != nil {
			w.events <- event{kind: evClientClosed, client: c, err: err}
			return
		}
	}
}

func (w *Worker) onClientData(c *client, data []byte) {
	if c.closed {
		return
	}
	for {
		status := c.parser.Feed(data)
		data = nil
		switch status {
		case resp.StatusIncomplete:
			return
		case resp.StatusError:
			c.writeOutput(resp.FormatError("Invalid request"))
			w.closeClient(c)
			return
		case resp.StatusOK:
			cmd := c.parser.Command()
			rest := c.parser.Rest()
			c.parser = resp.NewParser()
			w.log.DumpQuery(c.id, cmd.Args)
			w.handleCommand(c, cmd)
			if len(rest) == 0 {
				return
			}
			data = rest
		}
	}
}

func (w *Worker) onClientClosed(c *client) {
	if c.closed {
		return
	}
	w.closeClient(c)
}

func (w *Worker) closeClient(c *client) {
	c.closed = true
	c.writer.close()
	_ = c.conn.Close()
	w.log.Debugf("worker %d: client %d (%s) disconnected", w.ID, c.id, c.traceID)
	delete(w.clients, c.id)
	if w.metrics != nil {
		w.metrics.DecClients()
	}
	if w.OnClientClosed != nil {
		w.OnClientClosed()
	}
}

func (w *Worker) nextID() uint64 {
	w.nextReqID++
	return w.nextReqID
}

func (w *Worker) routeCluster(c *client) *topology.Cluster {
	if !c.multiplexed {
		return c.privateCluster
	}
	return w.cluster
}

func (w *Worker) handleCommand(c *client, cmd *resp.Command) {
	req := &request{id: w.nextID(), client: c, cmd: cmd, state: stateRouting}
	c.replies.PushBack(req)

	w.maybeDemote(c)

	outcome, err := router.Route(w.routeCluster(c), cmd)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncRoutingErrors()
		}
		req.localErr = resp.FormatError(err.Error())
		req.state = stateDone
		w.tryFlush(c)
		return
	}
	if w.metrics != nil {
		w.metrics.IncCommands()
	}
	req.node = outcome.Node
	p := w.poolFor(c, outcome.Node)
	w.enqueue(p, req)
}

// enqueue hands req to p: written immediately if the connection is up, or
// buffered on to_send while a connection attempt is outstanding (spec.md
// §4.6, "to_send"/"pending").
func (w *Worker) enqueue(p *pool, req *request) {
	req.pool = p
	if p.conn != nil {
		w.writeRequest(p, req)
		return
	}
	req.state = stateQueued
	p.toSend.PushBack(req)
	if !p.connecting {
		p.connecting = true
		go w.connect(p)
	}
}

// writeRequest queues req's wire bytes on p's dedicated writer goroutine and
// advances req to stateSent immediately. The actual socket write happens
// off the event loop; write ordering is still exact because asyncWriter
// drains its queue in enqueue order on a single goroutine, so pending stays
// in the same order the bytes will hit the wire.
func (w *Worker) writeRequest(p *pool, req *request) {
	req.state = stateSent
	p.pending.PushBack(req)
	p.writer.enqueue(req.cmd.Format())
}

func (w *Worker) connect(p *pool) {
	nc, err := w.dialer.Connect(p.node)
	w.events <- event{kind: evPoolConnected, pool: p, conn: nc, err: err}
}

// writePoolLoop is p's dedicated writer goroutine, the write-side analogue
// of readBackendLoop. A write error tears the connection down exactly like
// a read error, via evPoolWriteErr instead of evPoolClosed so it is never
// mistaken for a ReplyFramingError (onPoolClosed's isFramingError check
// does not apply to a failed write).
func (w *Worker) writePoolLoop(p *pool, gen uint64, writer *asyncWriter, nc *backend.NodeConn) {
	write := func(buf []byte) error {
		_, err := nc.Write(buf)
		return err
	}
	writer.run(write, func(err error) {
		w.events <- event{kind: evPoolWriteErr, pool: p, gen: gen, err: err}
	})
}

func (w *Worker) onPoolConnected(p *pool, nc *backend.NodeConn, err error) {
	p.connecting = false
	if err != nil {
		w.log.Warningf("worker %d: connect %s: %v", w.ID, p.node.Addr(), err)
		w.failAll(p, resp.FormatError("Could not connect to node"))
		return
	}
	p.conn = nc
	p.writer = newAsyncWriter()
	p.gen++
	gen := p.gen
	go w.writePoolLoop(p, gen, p.writer, nc)
	p.retried = false
	if w.metrics != nil {
		w.metrics.IncBackendConns()
	}
	go w.readBackendLoop(p, gen, nc)

	for e := p.toSend.Front(); e != nil; {
		req := e.Value.(*request)
		next := e.Next()
		p.toSend.Remove(e)
		w.writeRequest(p, req)
		e = next
	}
}

func (w *Worker) readBackendLoop(p *pool, gen uint64, nc *backend.NodeConn) {
	for {
		raw, err := nc.Reader.ReadRaw()
		if err != nil {
			w.events <- event{kind: evPoolClosed, pool: p, gen: gen, err: err}
			return
		}
		w.events <- event{kind: evBackendData, pool: p, data: raw}
	}
}

func (w *Worker) onBackendData(p *pool, raw []byte) {
	e := p.pending.Front()
	if e == nil {
		w.log.Warningf("worker %d: unexpected reply from %s with no pending request", w.ID, p.node.Addr())
		return
	}
	req := e.Value.(*request)
	p.pending.Remove(e)
	req.reply = raw
	req.state = stateDone
	w.tryFlush(req.client)
}

func (w *Worker) onPoolClosed(p *pool, gen uint64, err error) {
	if gen != p.gen {
		return // stale report from a generation already torn down
	}
	// A reply framing error (spec.md §7 ReplyFramingError) is per-request:
	// the in-flight reply at the head of pending gets its own message and
	// is not retried, even though the connection itself still gets torn
	// down and reconnected because the byte stream is no longer
	// trustworthy past the malformed frame.
	if isFramingError(err) {
		if e := p.pending.Front(); e != nil {
			req := e.Value.(*request)
			p.pending.Remove(e)
			req.localErr = resp.FormatError("Failed to get reply")
			req.state = stateDone
			w.tryFlush(req.client)
		}
	}
	w.teardownConn(p, err)
}

// onPoolWriteErr handles a failed write reported by writePoolLoop. Unlike
// onPoolClosed it never runs the framing-error check: a failed Write is
// always a transport problem, never the reply parser rejecting a malformed
// frame.
func (w *Worker) onPoolWriteErr(p *pool, gen uint64, err error) {
	if gen != p.gen {
		return
	}
	w.teardownConn(p, err)
}

// isFramingError reports whether err came from the reply parser rejecting a
// malformed frame rather than from the transport itself (EOF or a net.Error).
func isFramingError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	var ne net.Error
	return !errors.As(err, &ne)
}

// teardownConn handles a broken backend connection (read EOF/error or a
// failed write). Per spec.md §7 (TransportReset) and the propagation rule
// "per-node errors trigger at most one reconnect+replay", the first time a
// given connection generation drops, every queued and in-flight request on
// it is moved back onto to_send and a single reconnect is attempted; a
// second failure before a successful reconnect fails everything outright.
// This generalizes the upstream single-in-flight-request replay to the
// whole backlog, since Go's net.Conn gives no byte-level partial-write
// visibility to replay more surgically (see DESIGN.md).
func (w *Worker) teardownConn(p *pool, cause error) {
	if p.conn != nil {
		p.writer.close()
		_ = p.conn.Close()
		p.conn = nil
		p.writer = nil
		// Bump gen so a second, stale failure report for the connection
		// just torn down (the read and write goroutines can each observe
		// the same disconnect independently) is recognized as such by
		// onPoolClosed/onPoolWriteErr and ignored instead of replaying or
		// failing the backlog twice.
		p.gen++
		if w.metrics != nil {
			w.metrics.DecBackendConns()
		}
	}
	if !p.retried {
		p.retried = true
		replay := requestsOf(p.pending)
		replay = append(replay, requestsOf(p.toSend)...)
		p.pending.Init()
		p.toSend.Init()
		for _, req := range replay {
			req.state = stateQueued
			p.toSend.PushBack(req)
		}
		w.log.Warningf("worker %d: %s disconnected (%v), reconnecting", w.ID, p.node.Addr(), cause)
		if !p.connecting {
			p.connecting = true
			go w.connect(p)
		}
		return
	}
	w.failAll(p, resp.FormatError("Cluster node disconnected: "+p.node.Addr()))
}

// failAll drains every request queued or in-flight on p and delivers msg to
// each owning client as that request's reply.
func (w *Worker) failAll(p *pool, msg []byte) {
	for _, req := range p.drainAll() {
		req.localErr = msg
		req.reply = nil
		req.state = stateDone
		w.tryFlush(req.client)
	}
}

// tryFlush writes out the longest done-prefix of c's reply queue, in
// request order, regardless of which pool(s) produced each reply (spec.md
// §4.7 "collect").
func (w *Worker) tryFlush(c *client) {
	for {
		e := c.replies.Front()
		if e == nil {
			return
		}
		req := e.Value.(*request)
		if req.state != stateDone {
			return
		}
		c.replies.Remove(e)
		c.writeOutput(req.output())
	}
}
