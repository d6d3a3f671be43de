// Package metrics provides metrics implementations for deepresearch
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memtensor/deepresearch/pkg/interfaces"
)

// Namespace prefixes every exported metric
const Namespace = "deepresearch"

// Metric names recorded by the pipeline and the API
const (
	StageDuration     = "pipeline_stage_duration_seconds"
	StageErrors       = "pipeline_stage_errors_total"
	PipelineRequests  = "pipeline_requests_total"
	CitationFetches   = "citation_fetch_total"
	HTTPRequests      = "http_requests_total"
	HTTPDuration      = "http_request_duration_seconds"
	EventsPublished   = "events_published_total"
	LLMRequests       = "llm_requests_total"
	LLMRequestLatency = "llm_request_duration_seconds"
	StoreOperations   = "store_operations_total"
	StoreLatency      = "store_operation_duration_seconds"
)

// NoOpMetrics is a no-operation metrics implementation
type NoOpMetrics struct{}

// Counter increments a counter metric
func (m *NoOpMetrics) Counter(name string, value float64, labels map[string]string) {}

// Gauge sets a gauge metric
func (m *NoOpMetrics) Gauge(name string, value float64, labels map[string]string) {}

// Histogram records a histogram metric
func (m *NoOpMetrics) Histogram(name string, value float64, labels map[string]string) {}

// Timer records timing metrics
func (m *NoOpMetrics) Timer(name string, duration float64, labels map[string]string) {}

// PrometheusMetrics records metrics in a private Prometheus registry.
// Vectors are created on first use; the label keys seen on first use are
// fixed for that metric name and later calls with other keys are dropped.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelKeys  map[string][]string
}

// Counter increments a counter metric
func (m *PrometheusMetrics) Counter(name string, value float64, labels map[string]string) {
	keys := sortedKeys(labels)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		if !m.claim(name, keys) {
			m.mu.Unlock()
			return
		}
		vec = m.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      name,
		}, keys)
		m.counters[name] = vec
	}
	m.mu.Unlock()

	if !sameKeys(m.keysFor(name), keys) {
		return
	}
	vec.With(labels).Add(value)
}

// Gauge sets a gauge metric
func (m *PrometheusMetrics) Gauge(name string, value float64, labels map[string]string) {
	keys := sortedKeys(labels)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		if !m.claim(name, keys) {
			m.mu.Unlock()
			return
		}
		vec = m.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      name,
		}, keys)
		m.gauges[name] = vec
	}
	m.mu.Unlock()

	if !sameKeys(m.keysFor(name), keys) {
		return
	}
	vec.With(labels).Set(value)
}

// Histogram records a histogram metric
func (m *PrometheusMetrics) Histogram(name string, value float64, labels map[string]string) {
	keys := sortedKeys(labels)
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		if !m.claim(name, keys) {
			m.mu.Unlock()
			return
		}
		vec = m.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.DefBuckets,
		}, keys)
		m.histograms[name] = vec
	}
	m.mu.Unlock()

	if !sameKeys(m.keysFor(name), keys) {
		return
	}
	vec.With(labels).Observe(value)
}

// Timer records timing metrics in seconds
func (m *PrometheusMetrics) Timer(name string, duration float64, labels map[string]string) {
	m.Histogram(name, duration, labels)
}

// Registry returns the registry backing these metrics
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// claim reserves name for one metric kind. Caller holds mu.
func (m *PrometheusMetrics) claim(name string, keys []string) bool {
	if _, taken := m.labelKeys[name]; taken {
		return false
	}
	m.labelKeys[name] = keys
	return true
}

func (m *PrometheusMetrics) keysFor(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labelKeys[name]
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ interfaces.Metrics = (*NoOpMetrics)(nil)
var _ interfaces.Metrics = (*PrometheusMetrics)(nil)

// NewNoOpMetrics creates a new no-op metrics implementation
func NewNoOpMetrics() interfaces.Metrics {
	return &NoOpMetrics{}
}

// NewPrometheusMetrics creates a Prometheus metrics implementation with its
// own registry, including the Go runtime and process collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		registry:   registry,
		factory:    promauto.With(registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelKeys:  make(map[string][]string),
	}
}

// NewTestMetrics creates a metrics implementation for testing
func NewTestMetrics() interfaces.Metrics {
	return &NoOpMetrics{}
}
