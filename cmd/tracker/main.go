package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/meshtrack/internal/telemetry"
	"github.com/ryandielhenn/meshtrack/pkg/registry"
	"github.com/ryandielhenn/meshtrack/pkg/tracker"
)

// Overridden at build time via -ldflags.
var (
	version = "dev"
	gitSHA  = "unknown"
)

func newRootCmd() *cobra.Command {
	var (
		port         int
		hostname     string
		timeoutMS    int64
		retryBindMS  int64
		metricsAddr  string
		maxBodyBytes int64
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "meshtrack",
		Short: "HTTP rendezvous tracker for a service-discovery mesh",
		Long: `meshtrack is the central rendezvous point for a peer discovery mesh.
Clients POST their locally-known service map to /; the tracker merges every
report into one process-wide view and answers each request with that merged
view. Entries not refreshed within --timeout milliseconds are marked
unavailable. All state is in-memory; a restart starts from empty.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(debug)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()
			logger = logger.With(zap.String("run_id", uuid.New().String()))

			telemetry.SetBuildInfo(version, gitSHA)

			store := registry.New()
			tr := tracker.New(store, time.Duration(timeoutMS)*time.Millisecond, logger)
			srv := tracker.NewServer(tracker.ServerConfig{
				Addr:         net.JoinHostPort(hostname, strconv.Itoa(port)),
				RetryBind:    time.Duration(retryBindMS) * time.Millisecond,
				MetricsAddr:  metricsAddr,
				MaxBodyBytes: maxBodyBytes,
			}, tr, logger)

			logger.Info("starting tracker",
				zap.String("version", version),
				zap.Int("port", port),
				zap.Int64("timeout_ms", timeoutMS))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "port for the tracker surface")
	cmd.Flags().StringVar(&hostname, "hostname", "", "bind hostname (empty = all interfaces)")
	cmd.Flags().Int64Var(&timeoutMS, "timeout", 0, "ms of silence before a service is marked unavailable (0 = never)")
	cmd.Flags().Int64Var(&retryBindMS, "retry-bind", 0, "retry binding every N ms when the address is taken (0 = fail immediately)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "host:port for the Prometheus listener (empty = disabled)")
	cmd.Flags().Int64Var(&maxBodyBytes, "max-body-bytes", 0, "request body cap in bytes (0 = unbounded)")
	cmd.Flags().BoolVar(&debug, "debug", false, "development logging at debug level")
	return cmd
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
