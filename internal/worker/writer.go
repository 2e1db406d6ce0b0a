package worker

import "sync"

// asyncWriter serializes a connection's outgoing bytes onto a single
// dedicated writer goroutine, the write-side counterpart of the dedicated
// reader goroutines readClientLoop/readBackendLoop already use. enqueue
// never blocks the caller (the event loop), so a slow client or a stalled
// backend socket can only stall its own writer goroutine, never routing or
// I/O for any other client or pool (spec.md: "No data-path operation
// blocks").
type asyncWriter struct {
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
	closed bool
}

func newAsyncWriter() *asyncWriter {
	return &asyncWriter{notify: make(chan struct{}, 1)}
}

// enqueue appends buf to the outgoing queue and wakes the writer goroutine
// if it is idle. It is a no-op once close has been called.
func (a *asyncWriter) enqueue(buf []byte) {
	if len(buf) == 0 {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, buf)
	a.mu.Unlock()
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// close marks the writer done; any queued-but-unwritten buffers are
// dropped, matching the connection being torn down anyway.
func (a *asyncWriter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// drain blocks until at least one buffer is queued or the writer has been
// closed, returning the whole queue at once so run can write it in a single
// pass without re-taking the lock per buffer.
func (a *asyncWriter) drain() ([][]byte, bool) {
	for {
		a.mu.Lock()
		if len(a.queue) > 0 {
			out := a.queue
			a.queue = nil
			a.mu.Unlock()
			return out, true
		}
		if a.closed {
			a.mu.Unlock()
			return nil, false
		}
		a.mu.Unlock()
		<-a.notify
	}
}

// run drives the writer goroutine: it blocks on real socket writes, which
// is safe here precisely because nothing else ever touches a. On the first
// write error it reports the error via onErr and stops; the caller is
// responsible for tearing the connection down.
func (a *asyncWriter) run(write func([]byte) error, onErr func(error)) {
	for {
		bufs, ok := a.drain()
		if !ok {
			return
		}
		for _, b := range bufs {
			if err := write(b); err != nil {
				onErr(err)
				return
			}
		}
	}
}
