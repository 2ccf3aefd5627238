package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/signalsfoundry/occupancy-adp/internal/observability"
	"github.com/signalsfoundry/occupancy-adp/internal/rpc"
	"github.com/signalsfoundry/occupancy-adp/kb"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// serveConfig configures the gRPC solver service.
type serveConfig struct {
	ListenAddress  string
	MetricsAddress string
	ArchivePath    string
	MaxStates      int
	ShutdownGrace  time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	cfg := serveConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the solver over gRPC and expose Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", cfg.ListenAddress)
			if err != nil {
				return err
			}
			return runServer(ctx, cfg, a.log, lis)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the gRPC server listens on")
	cmd.Flags().StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics; empty disables it")
	cmd.Flags().StringVar(&cfg.ArchivePath, "archive", "", "run archive directory; empty keeps runs in memory")
	cmd.Flags().IntVar(&cfg.MaxStates, "max-states", 0, "largest accepted number of non-absorbing states")
	cmd.Flags().DurationVar(&cfg.ShutdownGrace, "shutdown-grace", 5*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}

// runServer blocks until ctx is cancelled or a listener fails.
func runServer(ctx context.Context, cfg serveConfig, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	tracing := observability.TracingConfigFromEnv()
	tracing.Attributes = append(tracing.Attributes,
		attribute.String("adp.archive", archiveBackend(cfg.ArchivePath)),
		attribute.Int("adp.max_states", cfg.MaxStates),
	)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return err
	}
	solverMetrics, err := observability.NewSolverCollector(reg)
	if err != nil {
		return err
	}

	store, err := openServeStore(cfg.ArchivePath, log, rpcMetrics)
	if err != nil {
		return err
	}
	defer store.Close()
	defer watchArchive(ctx, store, log, rpcMetrics)()

	svc := rpc.NewService(store,
		rpc.WithLogger(log),
		rpc.WithSolverMetrics(solverMetrics),
		rpc.WithMaxStates(cfg.MaxStates),
	)
	server := rpc.NewServer(svc, log, rpcMetrics)

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rpcMetrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting solver gRPC server", logging.String("addr", lis.Addr().String()))
		return server.Serve(lis)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", cfg.MetricsAddress))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down solver server")

		grace := cfg.ShutdownGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(grace):
			server.Stop()
		}

		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

func archiveBackend(path string) string {
	if path == "" {
		return "memory"
	}
	return "badger"
}

func openServeStore(path string, log logging.Logger, metrics kb.MetricsRecorder) (kb.Store, error) {
	if path == "" {
		store := kb.NewKnowledgeBase()
		store.SetMetrics(metrics)
		return store, nil
	}
	return kb.OpenBadgerStore(kb.BadgerConfig{
		Path:       path,
		SyncWrites: true,
		Logger:     log,
		Metrics:    metrics,
	})
}

// watchArchive logs every archive mutation and counts it. It returns the
// unsubscribe function.
func watchArchive(ctx context.Context, store kb.Store, log logging.Logger, metrics *observability.RPCCollector) func() {
	return store.Subscribe(func(ev kb.Event) {
		metrics.ObserveArchiveEvent(ev.Type.String())
		log.Info(ctx, "run archive changed",
			logging.String("event", ev.Type.String()),
			logging.String("run_id", ev.Run.ID),
			logging.Bool("feasible", ev.Run.Feasible),
		)
	})
}
