// Package service ties the scan gateway, the bounded store and its side
// channels (report ledger, metrics, activity feed) together behind the
// operations exposed by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/aggregate"
	"github.com/llamacompass/compass/internal/data/db"
	"github.com/llamacompass/compass/internal/data/model"
	"github.com/llamacompass/compass/internal/external"
	"github.com/llamacompass/compass/internal/gateway"
	"github.com/llamacompass/compass/internal/github"
	"github.com/llamacompass/compass/internal/log"
	"github.com/llamacompass/compass/internal/metrics"
	"github.com/llamacompass/compass/internal/store"
	"github.com/llamacompass/compass/pkg/types"
)

// ErrValidation marks a request rejected before the scanning service is called.
var ErrValidation = errors.New("validation error")

// ErrHealthUnsupported is returned by Health when the gateway cannot report it.
var ErrHealthUnsupported = errors.New("gateway does not report health")

// Activity feed event types.
const (
	EventScanIngested = "scan.ingested"
	EventScanEvicted  = "scan.evicted"
)

// ScanRequest is an inbound request to scan one repository.
type ScanRequest struct {
	RepositoryURL string `json:"repositoryUrl"`
	AccessToken   string `json:"accessToken,omitempty"`
}

// Event is published to the Notifier for every store change.
type Event struct {
	Type       string           `json:"type"`
	ScanID     string           `json:"scanId"`
	Repository string           `json:"repository"`
	Status     types.ScanStatus `json:"status"`
	Duplicate  bool             `json:"duplicate,omitempty"`
	Time       time.Time        `json:"time"`
}

// Notifier receives activity events. Notify must not block.
type Notifier interface {
	Notify(event Event)
}

// HealthChecker is implemented by gateways that can report the scanning
// service health.
type HealthChecker interface {
	Health(ctx context.Context) (*external.HealthResponse, error)
}

// Dashboard is the dashboard payload: headline metrics plus histograms, all
// computed from one store snapshot.
type Dashboard struct {
	Metrics    aggregate.DashboardMetrics `json:"metrics"`
	Severities map[types.Severity]int     `json:"severities"`
	Languages  map[string]int             `json:"languages"`
	Statuses   map[types.ScanStatus]int   `json:"statuses"`
}

// Option configures a Service.
type Option func(*Service)

// WithCapacity sets the store capacity.
func WithCapacity(capacity int) Option {
	return func(s *Service) { s.capacity = capacity }
}

// WithReports enables the report ledger.
func WithReports(reports db.ReportManager) Option {
	return func(s *Service) { s.reports = reports }
}

// WithMetrics enables scan pipeline metrics.
func WithMetrics(m *metrics.ScanMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets the activity feed.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultToken is used for requests that carry no access token.
func WithDefaultToken(token string) Option {
	return func(s *Service) { s.defaultToken = token }
}

// WithScanTimeout bounds each gateway call. Zero means no bound.
func WithScanTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.scanTimeout = timeout }
}

// WithClock overrides time.Now for event and eviction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the dashboard backend.
type Service struct {
	gateway gateway.Gateway
	store   *store.Store

	capacity     int
	reports      db.ReportManager
	metrics      *metrics.ScanMetrics
	notifier     Notifier
	logger       types.Logger
	defaultToken string
	scanTimeout  time.Duration
	now          func() time.Time

	// hookCtx carries the logger into the ledger calls made from store hooks.
	hookCtx context.Context
}

// New creates a Service that scans through gw.
func New(gw gateway.Gateway, opts ...Option) *Service {
	s := &Service{
		gateway:  gw,
		capacity: store.DefaultCapacity,
		logger:   &types.MockLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hookCtx = log.WithLogger(context.Background(), s.logger)
	s.store = store.New(
		store.WithCapacity(s.capacity),
		store.WithLogger(s.logger),
		store.WithIngestHook(s.onIngest),
		store.WithEvictionHook(s.onEvict),
	)
	return s
}

// Store returns the read side of the scan store.
func (s *Service) Store() store.Reader {
	return s.store
}

// Validate checks a scan request without side effects.
func (s *Service) Validate(req ScanRequest) error {
	url := strings.TrimSpace(req.RepositoryURL)
	if url == "" {
		return fmt.Errorf("%w: repository URL is required", ErrValidation)
	}
	if _, _, err := github.ParseRepositoryURL(url); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// Scan validates req, runs the scan and ingests the result. Failed scans
// reported by the service are ingested and returned without error; a
// gateway failure or a cancelled context leaves the store untouched.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*types.ScanRecord, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	repositoryURL := strings.TrimSpace(req.RepositoryURL)
	token := req.AccessToken
	if token == "" {
		token = s.defaultToken
	}

	if s.metrics != nil {
		defer s.metrics.Measure(s.metricsContext(ctx), "scan")()
	}

	scanCtx := ctx
	if s.scanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
	}

	record, err := s.gateway.Scan(scanCtx, repositoryURL, token)
	if err != nil {
		s.gatewayFailure(ctx, err)
		s.logger.Warn("scan failed", zap.String("repository", repositoryURL), zap.Error(err))
		return nil, fmt.Errorf("scan %s: %w", repositoryURL, err)
	}
	if err := ctx.Err(); err != nil {
		s.logger.Info("scan result discarded, request cancelled",
			zap.String("repository", repositoryURL), zap.String("scanID", record.ID))
		return nil, err
	}

	s.store.Ingest(*record)
	return record, nil
}

func (s *Service) gatewayFailure(ctx context.Context, err error) {
	if s.metrics == nil {
		return
	}
	kind := gateway.KindTransport
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		kind = gwErr.Kind
	}
	s.metrics.GatewayFailure(s.metricsContext(ctx), string(kind))
}

// metricsContext carries the service logger unless ctx already has one.
func (s *Service) metricsContext(ctx context.Context) context.Context {
	if _, ok := log.FromContext(ctx).(*types.MockLogger); ok {
		return log.WithLogger(ctx, s.logger)
	}
	return ctx
}

func (s *Service) onIngest(record types.ScanRecord, duplicate bool) {
	ctx := s.hookCtx
	if s.reports != nil {
		if _, err := s.reports.InsertReport(ctx, &record); err != nil {
			s.logger.Error("failed to record scan report", zap.String("scanID", record.ID), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.ScanIngested(ctx, string(record.Status()), duplicate)
		s.publishSize(ctx)
	}
	s.notify(Event{
		Type:       EventScanIngested,
		ScanID:     record.ID,
		Repository: record.RepositoryURL,
		Status:     record.Status(),
		Duplicate:  duplicate,
	})
}

func (s *Service) onEvict(record types.ScanRecord) {
	ctx := s.hookCtx
	if s.reports != nil {
		if err := s.reports.MarkEvicted(ctx, record.ID, s.now()); err != nil {
			s.logger.Error("failed to mark report evicted", zap.String("scanID", record.ID), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.ScanEvicted(ctx)
		s.publishSize(ctx)
	}
	s.notify(Event{
		Type:       EventScanEvicted,
		ScanID:     record.ID,
		Repository: record.RepositoryURL,
		Status:     record.Status(),
	})
}

func (s *Service) publishSize(ctx context.Context) {
	scans, issues, solutions := s.store.Size()
	s.metrics.StoreSize(ctx, scans, issues, solutions)
}

func (s *Service) notify(e Event) {
	if s.notifier == nil {
		return
	}
	e.Time = s.now()
	s.notifier.Notify(e)
}

// Dashboard computes the dashboard payload.
func (s *Service) Dashboard() Dashboard {
	snap := s.store.Snapshot()
	return Dashboard{
		Metrics:    aggregate.Dashboard(snap),
		Severities: aggregate.SeverityHistogram(snap),
		Languages:  aggregate.LanguageHistogram(snap),
		Statuses:   aggregate.StatusHistogram(snap),
	}
}

// Issues returns every stored issue, or the last limit issues when limit > 0.
func (s *Service) Issues(limit int) []types.Issue {
	if limit > 0 {
		return s.store.RecentIssues(limit)
	}
	return s.store.ListIssues()
}

// Solutions returns every stored solution.
func (s *Service) Solutions() []types.Solution {
	return s.store.ListSolutions()
}

// ScanHistory returns the stored scans, most recently ingested first.
func (s *Service) ScanHistory() []types.ScanRecord {
	scans := s.store.ListScans()
	for i, j := 0, len(scans)-1; i < j; i, j = i+1, j-1 {
		scans[i], scans[j] = scans[j], scans[i]
	}
	return scans
}

// UpdateIssueStatus sets the triage status of an issue.
func (s *Service) UpdateIssueStatus(id string, status types.IssueStatus) (types.Issue, error) {
	issue, err := s.store.UpdateIssueStatus(id, status)
	if errors.Is(err, store.ErrInvalidStatus) {
		return types.Issue{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return issue, err
}

// Reports lists report ledger rows, optionally for one "owner/name"
// repository. Without a ledger the list is empty.
func (s *Service) Reports(ctx context.Context, repository string) ([]model.Report, error) {
	if s.reports == nil {
		return []model.Report{}, nil
	}
	reports, err := s.reports.ListReports(ctx, strings.TrimSpace(repository))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// Health reports the scanning service health.
func (s *Service) Health(ctx context.Context) (*external.HealthResponse, error) {
	hc, ok := s.gateway.(HealthChecker)
	if !ok {
		return nil, ErrHealthUnsupported
	}
	return hc.Health(ctx)
}
