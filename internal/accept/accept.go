// Package accept runs the listener loop that hands each new connection off
// to a worker by "thread_id = client_id mod num_workers" (spec.md §4.6),
// soft-limiting admission against --max-clients.
package accept

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/shardmux/cluster-proxy/internal/log"
	"github.com/shardmux/cluster-proxy/internal/worker"
)

// burstLimit bounds how many connections the accept loop will admit in a
// single instant before the rate limiter starts smoothing admission,
// independent of the --max-clients ceiling.
const burstLimit = 64

// Pool fans accepted connections out across a fixed worker slice.
type Pool struct {
	workers    []*worker.Worker
	maxClients int64
	limiter    *rate.Limiter
	log        *log.Logger

	nextID uint64
	active int64
}

// NewPool wires OnClientClosed on every worker so Pool can track its own
// admitted-connection count without workers importing this package.
func NewPool(workers []*worker.Worker, maxClients int, acceptRate rate.Limit, lg *log.Logger) *Pool {
	p := &Pool{
		workers:    workers,
		maxClients: int64(maxClients),
		limiter:    rate.NewLimiter(acceptRate, burstLimit),
		log:        lg,
	}
	for _, w := range workers {
		w.OnClientClosed = func() { atomic.AddInt64(&p.active, -1) }
	}
	return p
}

// Serve accepts connections from ln until ctx is cancelled or ln returns a
// permanent error.
func (p *Pool) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !p.admit(ctx) {
			_ = conn.Close()
			continue
		}
		id := atomic.AddUint64(&p.nextID, 1)
		w := p.workers[int(id)%len(p.workers)]
		w.Submit(conn, id)
	}
}

func (p *Pool) admit(ctx context.Context) bool {
	if atomic.LoadInt64(&p.active) >= p.maxClients {
		p.log.Warningf("accept: max-clients reached, rejecting connection")
		return false
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return false
	}
	atomic.AddInt64(&p.active, 1)
	return true
}
