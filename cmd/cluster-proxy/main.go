// Command cluster-proxy is the process entry point: parse flags, fetch the
// cluster topology, start the worker pool and accept loop, and serve the
// admin/metrics HTTP surface, per spec.md §6 and its SPEC_FULL.md expansion.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shardmux/cluster-proxy/internal/accept"
	"github.com/shardmux/cluster-proxy/internal/backend"
	"github.com/shardmux/cluster-proxy/internal/bootstrap"
	"github.com/shardmux/cluster-proxy/internal/config"
	"github.com/shardmux/cluster-proxy/internal/log"
	"github.com/shardmux/cluster-proxy/internal/metrics"
	"github.com/shardmux/cluster-proxy/internal/netutil"
	"github.com/shardmux/cluster-proxy/internal/worker"
)

const (
	bootstrapTimeout  = 5 * time.Second
	reloadPollRate    = rate.Limit(5000)
	topologyReloadGap = 60 * time.Second
)

func main() {
	cfg, runnable, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cluster-proxy:", err)
		os.Exit(1)
	}
	if !runnable {
		os.Exit(0)
	}

	lg := log.New(log.ParseLevel(cfg.LogLevel), !cfg.DisableColors, cfg.DumpQueries, cfg.DumpBuffer)

	if cfg.Daemonize {
		// True daemonization (fork + detach controlling terminal) has no
		// idiomatic Go equivalent and no library in the pack attempts it;
		// process supervisors (systemd, runit, a container runtime) are
		// the idiomatic replacement. Logged and otherwise ignored.
		lg.Warningf("--daemonize requested: running in the foreground, use a process supervisor to detach")
	}

	cluster, err := bootstrap.Build(cfg.BootstrapAddr, cfg.BootstrapIsUnix, bootstrapTimeout)
	if err != nil {
		lg.Errorf("bootstrap: %v", err)
		os.Exit(1)
	}
	lg.Successf("bootstrap: learned topology with %d node(s)", len(cluster.Nodes))

	reloader := bootstrap.NewReloader(cfg.BootstrapAddr, cfg.BootstrapIsUnix, bootstrapTimeout, cluster)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	dialer := backend.NewDialer(bootstrapTimeout, cfg.Auth)

	workers := make([]*worker.Worker, cfg.Threads)
	for i := range workers {
		workers[i] = worker.New(i, dialer, cluster, cfg.DisableMultiplex, lg, m)
	}

	ln, err := netutil.Listen(cfg.Port)
	if err != nil {
		lg.Errorf("listen: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		w := w
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	acceptPool := accept.NewPool(workers, cfg.MaxClients, reloadPollRate, lg)
	g.Go(func() error {
		if err := acceptPool.Serve(gctx, ln); err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		return nil
	})

	if m != nil {
		adminMux := http.NewServeMux()
		adminMux.Handle("/", m.Handler())
		adminMux.Handle("/admin/reload", reloader.Handler())
		admin := &http.Server{Addr: cfg.MetricsAddr, Handler: adminMux}
		g.Go(func() error {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return admin.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(topologyReloadGap)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := reloader.TriggerReloadSlots(); err != nil {
					lg.Warningf("periodic topology reload failed: %v", err)
				}
			}
		}
	})

	lg.Infof("cluster-proxy listening on :%d with %d workers", cfg.Port, cfg.Threads)
	if err := g.Wait(); err != nil {
		lg.Errorf("cluster-proxy: %v", err)
		os.Exit(1)
	}
}
