package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llamacompass/compass/internal/config"
	"github.com/llamacompass/compass/internal/data/db"
	"github.com/llamacompass/compass/internal/gateway"
	"github.com/llamacompass/compass/internal/github"
	"github.com/llamacompass/compass/internal/log"
	"github.com/llamacompass/compass/internal/metrics"
	"github.com/llamacompass/compass/internal/server"
	"github.com/llamacompass/compass/internal/service"
	"github.com/llamacompass/compass/internal/sql"
	"github.com/llamacompass/compass/pkg/types"
)

// app is the fully wired serve command.
type app struct {
	server   *server.Server
	service  *service.Service
	gateway  *gateway.HTTPGateway
	database *gorm.DB
	logger   types.Logger
}

// newGateway builds the scanning service client described by cfg.
func newGateway(cfg *config.Config, logger types.Logger) (*gateway.HTTPGateway, error) {
	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithVersionConstraint(cfg.ScannerVersion),
	}
	if cfg.VerifyAccess {
		opts = append(opts, gateway.WithAccessChecker(&github.AccessChecker{
			APIBaseURL: cfg.GitHubAPIURL,
			Logger:     logger,
		}))
	}
	gw, err := gateway.NewHTTPGateway(cfg.ScannerURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating scan gateway: %w", err)
	}
	return gw, nil
}

// newApp wires the ledger, metrics, service and HTTP server. The logger is
// taken from ctx.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.FromContext(ctx)

	connector, err := sql.CreateDBConnector("sqlite", cfg.DatabaseDSN, cfg.LogLevel == "debug")
	if err != nil {
		return nil, err
	}
	database, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to report ledger: %w", err)
	}
	reports, err := db.NewGormReportManager(database)
	if err != nil {
		return nil, errors.Join(err, sql.Close(database))
	}

	collector := metrics.FromContext(ctx, cfg.MetricsNamespace)
	scanMetrics, err := metrics.NewScanMetrics(ctx, collector)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error registering metrics: %w", err), sql.Close(database))
	}

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return nil, errors.Join(err, sql.Close(database))
	}

	feed := server.NewFeed(logger)
	svc := service.New(gw,
		service.WithCapacity(cfg.Capacity),
		service.WithReports(reports),
		service.WithMetrics(scanMetrics),
		service.WithNotifier(feed),
		service.WithLogger(logger),
		service.WithDefaultToken(cfg.GitHubToken),
		service.WithScanTimeout(cfg.ScanTimeout),
	)
	srv := server.New(server.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		Metrics:        collector,
	}, svc, feed)

	return &app{server: srv, service: svc, gateway: gw, database: database, logger: logger}, nil
}

// checkScanner logs the scanning service health. A missing or incompatible
// scanner is reported but does not stop the server.
func (a *app) checkScanner(ctx context.Context) {
	health, err := a.gateway.Health(ctx)
	if err != nil {
		a.logger.Warn("scanning service health check failed", zap.Error(err))
		return
	}
	a.logger.Info("scanning service is healthy", zap.String("status", health.Status), zap.String("version", health.Version))
}

// Close disconnects feed subscribers and closes the ledger.
func (a *app) Close() error {
	a.server.Close()
	return sql.Close(a.database)
}
