// Package metrics exposes the Prometheus instrumentation of the service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "compass"

const functionDurationName = "function_duration_seconds"

var functionDurationBuckets = []float64{0.005, 0.05, 0.25, 0.5, 1, 5, 30, 120}

// Collector registers and updates named metrics on a private registry.
type Collector interface {
	RegisterCounter(ctx context.Context, name, help string, labels ...string) (*prometheus.CounterVec, error)
	AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterCounter(ctx context.Context, name string) error
	RegisterGauge(ctx context.Context, name, help string, labels ...string) (*prometheus.GaugeVec, error)
	SetGauge(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterGauge(ctx context.Context, name string) error
	RegisterHistogram(ctx context.Context, name, help string, buckets []float64, labels ...string) (*prometheus.HistogramVec, error)
	ObserveHistogram(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterHistogram(ctx context.Context, name string) error
	MeasureFunctionExecutionTime(ctx context.Context, function string) (func(), error)
	MetricsHandler() http.Handler
	Gatherer() prometheus.Gatherer
}

type prometheusCollector struct {
	mu         sync.Mutex
	namespace  string
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

type contextKey string

const collectorKey contextKey = "metrics"

// NewCollector returns a Collector with its own registry, pre-loaded with the
// Go runtime and process collectors.
func NewCollector(namespace string) Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &prometheusCollector{
		namespace:  namespace,
		registry:   registry,
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

// WithMetrics returns a context carrying a new Collector for namespace.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, collectorKey, NewCollector(namespace))
}

// FromContext returns the Collector stored in ctx, or a new one for namespace.
func FromContext(ctx context.Context, namespace string) Collector {
	if c, ok := ctx.Value(collectorKey).(Collector); ok {
		return c
	}
	return NewCollector(namespace)
}

func (p *prometheusCollector) fullName(name string) string {
	return p.namespace + "_" + name
}

// RegisterCounter registers a counter vector under namespace_name.
func (p *prometheusCollector) RegisterCounter(_ context.Context, name, help string,
	labels ...string) (*prometheus.CounterVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	full := p.fullName(name)
	if _, ok := p.counters[full]; ok {
		return nil, fmt.Errorf("counter '%s' already registered", full)
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: full, Help: help}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register counter '%s': %w", full, err)
	}
	p.counters[full] = vec
	return vec, nil
}

// AddCounter adds value to the counter with the given label values.
func (p *prometheusCollector) AddCounter(_ context.Context, name string, value float64, labelValues ...string) error {
	p.mu.Lock()
	vec, ok := p.counters[p.fullName(name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("counter '%s' not found", p.fullName(name))
	}
	c, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("counter '%s': %w", p.fullName(name), err)
	}
	c.Add(value)
	return nil
}

// UnregisterCounter removes a counter. Unknown names are ignored.
func (p *prometheusCollector) UnregisterCounter(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	full := p.fullName(name)
	if vec, ok := p.counters[full]; ok {
		p.registry.Unregister(vec)
		delete(p.counters, full)
	}
	return nil
}

// RegisterGauge registers a gauge vector under namespace_name.
func (p *prometheusCollector) RegisterGauge(_ context.Context, name, help string,
	labels ...string) (*prometheus.GaugeVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	full := p.fullName(name)
	if _, ok := p.gauges[full]; ok {
		return nil, fmt.Errorf("gauge '%s' already registered", full)
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: full, Help: help}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register gauge '%s': %w", full, err)
	}
	p.gauges[full] = vec
	return vec, nil
}

// SetGauge sets the gauge with the given label values.
func (p *prometheusCollector) SetGauge(_ context.Context, name string, value float64, labelValues ...string) error {
	p.mu.Lock()
	vec, ok := p.gauges[p.fullName(name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("gauge '%s' not found", p.fullName(name))
	}
	g, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("gauge '%s': %w", p.fullName(name), err)
	}
	g.Set(value)
	return nil
}

// UnregisterGauge removes a gauge. Unknown names are ignored.
func (p *prometheusCollector) UnregisterGauge(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	full := p.fullName(name)
	if vec, ok := p.gauges[full]; ok {
		p.registry.Unregister(vec)
		delete(p.gauges, full)
	}
	return nil
}

// RegisterHistogram registers a histogram vector under namespace_name. Nil
// buckets select the Prometheus defaults.
func (p *prometheusCollector) RegisterHistogram(_ context.Context, name, help string, buckets []float64,
	labels ...string) (*prometheus.HistogramVec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerHistogramLocked(name, help, buckets, labels)
}

func (p *prometheusCollector) registerHistogramLocked(name, help string, buckets []float64,
	labels []string) (*prometheus.HistogramVec, error) {
	full := p.fullName(name)
	if _, ok := p.histograms[full]; ok {
		return nil, fmt.Errorf("histogram '%s' already registered", full)
	}
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: full, Help: help, Buckets: buckets}, labels)
	if err := p.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register histogram '%s': %w", full, err)
	}
	p.histograms[full] = vec
	return vec, nil
}

// ObserveHistogram records value in the histogram with the given label values.
func (p *prometheusCollector) ObserveHistogram(_ context.Context, name string, value float64,
	labelValues ...string) error {
	p.mu.Lock()
	vec, ok := p.histograms[p.fullName(name)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("histogram '%s' not found", p.fullName(name))
	}
	h, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("histogram '%s': %w", p.fullName(name), err)
	}
	h.Observe(value)
	return nil
}

// UnregisterHistogram removes a histogram. Unknown names are ignored.
func (p *prometheusCollector) UnregisterHistogram(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	full := p.fullName(name)
	if vec, ok := p.histograms[full]; ok {
		p.registry.Unregister(vec)
		delete(p.histograms, full)
	}
	return nil
}

// MeasureFunctionExecutionTime starts a timer and returns the func that stops
// it and records the elapsed seconds under the function label.
func (p *prometheusCollector) MeasureFunctionExecutionTime(_ context.Context, function string) (func(), error) {
	p.mu.Lock()
	vec, ok := p.histograms[p.fullName(functionDurationName)]
	if !ok {
		var err error
		vec, err = p.registerHistogramLocked(functionDurationName, "Time spent executing functions.",
			functionDurationBuckets, []string{"function"})
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.mu.Unlock()

	start := time.Now()
	return func() {
		vec.WithLabelValues(function).Observe(time.Since(start).Seconds())
	}, nil
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func (p *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (p *prometheusCollector) Gatherer() prometheus.Gatherer {
	return p.registry
}
