// Command pglisten subscribes to PostgreSQL notification channels and prints
// every notification it receives as a JSON line on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tornpsql/tornpsql/postgres"
	"github.com/tornpsql/tornpsql/pubsub"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pglisten [flags] channel...",
		Short: "Print PostgreSQL notifications as JSON lines",
		Long: "pglisten issues LISTEN for every channel given and writes each notification\n" +
			"to stdout as a JSON object. Settings may also come from PGLISTEN_* environment\n" +
			"variables, for example PGLISTEN_URL or PGLISTEN_LOG_LEVEL.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), os.Environ)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, args, stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.String("url", "", "connection URL; overrides host, port, database, user and password")
	flags.String("host", postgres.DefaultHost, "database host")
	flags.Int("port", postgres.DefaultPort, "database port")
	flags.String("database", "", "database name")
	flags.String("user", "", "database user")
	flags.String("password", "", "database password")
	flags.String("sslmode", string(postgres.SSLModePrefer), "SSL mode")
	flags.Duration("connect-timeout", 10*time.Second, "timeout for a single connect attempt")
	flags.Uint64("connect-retries", 0, "extra connect attempts with exponential backoff")
	flags.Duration("heartbeat", pubsub.DefaultHeartbeat, "longest single wait for a notification")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "write logs as JSON")
	flags.Bool("log-statements", false, "log every statement with its arguments")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9187")

	return cmd
}

func run(ctx context.Context, cfg Config, channels []string, stdout, stderr io.Writer) error {
	logger, err := postgres.NewLogger(postgres.LoggerConfig{
		Output: stderr,
		Level:  cfg.LogLevel,
		JSON:   cfg.LogJSON,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()

	client, err := postgres.Open(ctx, append(cfg.clientOptions(logger), postgres.WithMetricsRegisterer(reg))...)
	if err != nil {
		return err
	}

	defer func() { _ = client.Close(context.Background()) }()

	ps, err := pubsub.FromClient(ctx, client,
		pubsub.WithHeartbeat(cfg.Heartbeat),
		pubsub.WithMetricsRegisterer(reg),
	)
	if err != nil {
		return err
	}

	if err := ps.Subscribe(channels); err != nil {
		return err
	}

	if _, err := ps.Listen(ctx); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, logger) })
	}

	g.Go(func() error {
		defer stop()
		defer unsubscribe(ps, logger)

		return printNotifications(gctx, ps, stdout)
	})

	return g.Wait()
}

func printNotifications(ctx context.Context, ps *pubsub.PubSub, out io.Writer) error {
	enc := json.NewEncoder(out)

	for n, err := range ps.Notifications(ctx) {
		if err != nil {
			return err
		}

		if err := enc.Encode(n); err != nil {
			return fmt.Errorf("failed to write notification: %w", err)
		}
	}

	return nil
}

func unsubscribe(ps *pubsub.PubSub, logger postgres.Logger) {
	if len(ps.Channels()) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := ps.Unsubscribe(ctx); err != nil {
		logger.Warnf("Failed to unsubscribe on shutdown: %v", err)
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger postgres.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("Serving metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}
