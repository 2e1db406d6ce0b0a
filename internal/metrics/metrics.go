// Package metrics exposes the proxy's admin HTTP surface: Prometheus
// gauges/counters for connection counts, demotions, and per-worker queue
// depth (SPEC_FULL.md's metrics expansion), modeled on
// ClusterCockpit-cc-backend's prometheus-behind-gorilla/mux wiring.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the proxy reports. The zero value is
// not usable; construct with New.
type Metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	backendConns     prometheus.Gauge
	demotions        prometheus.Counter
	commandsTotal    prometheus.Counter
	routingErrors    prometheus.Counter
	queueDepth       *prometheus.GaugeVec
}

// New registers and returns a fresh metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clusterproxy",
			Name:      "connected_clients",
			Help:      "Number of client connections currently held open by the proxy.",
		}),
		backendConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clusterproxy",
			Name:      "backend_connections",
			Help:      "Number of live connections to back-end nodes, shared and private pools combined.",
		}),
		demotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clusterproxy",
			Name:      "client_demotions_total",
			Help:      "Number of clients moved from a shared to a private connection pool.",
		}),
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clusterproxy",
			Name:      "commands_routed_total",
			Help:      "Number of client commands successfully routed to a back-end node.",
		}),
		routingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clusterproxy",
			Name:      "routing_errors_total",
			Help:      "Number of client commands rejected locally (unsupported, cross-shard, no route).",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clusterproxy",
			Name:      "worker_queue_depth",
			Help:      "Combined to_send/pending request count across a worker's connection pools.",
		}, []string{"worker"}),
	}
	reg.MustRegister(m.connectedClients, m.backendConns, m.demotions, m.commandsTotal, m.routingErrors, m.queueDepth)
	return m
}

func (m *Metrics) IncClients()      { m.connectedClients.Inc() }
func (m *Metrics) DecClients()      { m.connectedClients.Dec() }
func (m *Metrics) IncBackendConns() { m.backendConns.Inc() }
func (m *Metrics) DecBackendConns() { m.backendConns.Dec() }
func (m *Metrics) IncDemotions()    { m.demotions.Inc() }
func (m *Metrics) IncCommands()     { m.commandsTotal.Inc() }
func (m *Metrics) IncRoutingErrors() { m.routingErrors.Inc() }

// SetQueueDepth reports worker id's combined pool backlog.
func (m *Metrics) SetQueueDepth(worker int, depth float64) {
	m.queueDepth.WithLabelValues(fmt.Sprintf("%d", worker)).Set(depth)
}

// Handler returns the admin HTTP surface: /metrics for Prometheus scraping
// and /healthz for a trivial liveness check.
func (m *Metrics) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve blocks, serving the admin HTTP surface on addr. Callers typically
// run it in its own goroutine; a non-nil error is always
// http.ErrServerClosed or a bind failure.
func (m *Metrics) Serve(addr string) error {
	srv := &http.Server{Addr: addr, Handler: m.Handler()}
	return srv.ListenAndServe()
}
