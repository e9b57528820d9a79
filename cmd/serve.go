package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/log"
	"github.com/llamacompass/compass/internal/metrics"
	"github.com/llamacompass/compass/internal/pprof"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the command running the dashboard API.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Long:  "Serve the dashboard API, scanning repositories on request and keeping the most recent scans in memory",
		RunE:  runServe,
	}

	serveCmd.Flags().StringP("listen-addr", "l", "", "Address the API listens on (default :8080)")
	serveCmd.Flags().Int("capacity", 0, "Number of scans kept before the oldest is evicted")
	serveCmd.Flags().String("database-dsn", "", "SQLite DSN of the report ledger")
	serveCmd.Flags().String("pprof-addr", "", "Address of the optional pprof server")
	serveCmd.Flags().String("metrics-namespace", "", "Prometheus metric namespace")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "Origins allowed by CORS and the activity feed")
	addScannerFlags(serveCmd)

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := log.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithLogger(ctx, logger)
	ctx = metrics.WithMetrics(ctx, cfg.MetricsNamespace)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	a.checkScanner(ctx)

	pprofErr := make(chan error, 1)
	if cfg.PprofAddr != "" {
		go func() { pprofErr <- pprof.StartPprofServer(ctx, cfg.PprofAddr, logger) }()
	} else {
		pprofErr <- nil
	}

	httpServer := a.server.HTTPServer()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting API server", zap.String("addr", httpServer.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	var errs []error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("API server failed: %w", err))
		}
		stop()
	case <-ctx.Done():
		logger.Info("shutting down API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.server.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	errs = append(errs, <-pprofErr, a.Close())
	return errors.Join(errs...)
}
