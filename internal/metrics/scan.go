package metrics

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/llamacompass/compass/internal/log"
)

// Metric names registered by NewScanMetrics, without the namespace prefix.
const (
	ScansIngestedTotal    = "scans_ingested_total"
	ScansEvictedTotal     = "scans_evicted_total"
	GatewayFailuresTotal  = "gateway_failures_total"
	DuplicateScanIDsTotal = "duplicate_scan_ids_total"
	StoreScans            = "store_scans"
	StoreIssues           = "store_issues"
	StoreSolutions        = "store_solutions"
)

// ScanMetrics records scan pipeline activity on a Collector.
type ScanMetrics struct {
	collector Collector
}

// NewScanMetrics registers the scan pipeline metrics on c.
func NewScanMetrics(ctx context.Context, c Collector) (*ScanMetrics, error) {
	var errs []error
	_, err := c.RegisterCounter(ctx, ScansIngestedTotal, "Scans ingested into the store, by status.", "status")
	errs = append(errs, err)
	_, err = c.RegisterCounter(ctx, ScansEvictedTotal, "Scans evicted from the store.")
	errs = append(errs, err)
	_, err = c.RegisterCounter(ctx, GatewayFailuresTotal, "Failed calls to the scanning service, by kind.", "kind")
	errs = append(errs, err)
	_, err = c.RegisterCounter(ctx, DuplicateScanIDsTotal, "Ingested scans whose id was already stored.")
	errs = append(errs, err)
	for _, g := range []struct{ name, help string }{
		{StoreScans, "Scans currently held."},
		{StoreIssues, "Issues currently held."},
		{StoreSolutions, "Solutions currently held."},
	} {
		_, err = c.RegisterGauge(ctx, g.name, g.help)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &ScanMetrics{collector: c}, nil
}

// Collector returns the underlying collector.
func (m *ScanMetrics) Collector() Collector {
	return m.collector
}

// ScanIngested counts an ingested scan.
func (m *ScanMetrics) ScanIngested(ctx context.Context, status string, duplicate bool) {
	m.logFailure(ctx, ScansIngestedTotal, m.collector.AddCounter(ctx, ScansIngestedTotal, 1, status))
	if duplicate {
		m.logFailure(ctx, DuplicateScanIDsTotal, m.collector.AddCounter(ctx, DuplicateScanIDsTotal, 1))
	}
}

// ScanEvicted counts an evicted scan.
func (m *ScanMetrics) ScanEvicted(ctx context.Context) {
	m.logFailure(ctx, ScansEvictedTotal, m.collector.AddCounter(ctx, ScansEvictedTotal, 1))
}

// GatewayFailure counts a failed scanning service call.
func (m *ScanMetrics) GatewayFailure(ctx context.Context, kind string) {
	m.logFailure(ctx, GatewayFailuresTotal, m.collector.AddCounter(ctx, GatewayFailuresTotal, 1, kind))
}

// StoreSize publishes the current store contents.
func (m *ScanMetrics) StoreSize(ctx context.Context, scans, issues, solutions int) {
	m.logFailure(ctx, StoreScans, m.collector.SetGauge(ctx, StoreScans, float64(scans)))
	m.logFailure(ctx, StoreIssues, m.collector.SetGauge(ctx, StoreIssues, float64(issues)))
	m.logFailure(ctx, StoreSolutions, m.collector.SetGauge(ctx, StoreSolutions, float64(solutions)))
}

// logFailure reports a failed metric update on the logger carried by ctx.
func (m *ScanMetrics) logFailure(ctx context.Context, metric string, err error) {
	if err != nil {
		log.FromContext(ctx).Debug("failed to update metric", zap.String("metric", metric), zap.Error(err))
	}
}

// Measure times fn under the function label.
func (m *ScanMetrics) Measure(ctx context.Context, function string) func() {
	stop, err := m.collector.MeasureFunctionExecutionTime(ctx, function)
	if err != nil {
		m.logFailure(ctx, function, err)
		return func() {}
	}
	return stop
}
