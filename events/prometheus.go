package events

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics with dynamically-labeled vectors,
// lazily registered per metric name so callers can Observe/Incr arbitrary
// dimensioned samples (workerId, taskType, strategy, fraudLevel — spec §6)
// without a fixed schema per call site.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu          sync.Mutex
	histograms  map[string]*prometheus.HistogramVec
	counters    map[string]*prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		registerer: reg,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
	}
}

func (m *PrometheusMetrics) Observe(name string, value float64, dims map[string]string) {
	labels := sortedKeys(dims)
	m.mu.Lock()
	hv, ok := m.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: sanitizeMetricName(name),
			Help: "verification-core sample: " + name,
		}, labels)
		if m.registerer != nil {
			_ = m.registerer.Register(hv)
		}
		m.histograms[name] = hv
	}
	m.mu.Unlock()
	hv.With(prometheus.Labels(dims)).Observe(value)
}

func (m *PrometheusMetrics) Incr(name string, dims map[string]string) {
	labels := sortedKeys(dims)
	m.mu.Lock()
	cv, ok := m.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitizeMetricName(name),
			Help: "verification-core counter: " + name,
		}, labels)
		if m.registerer != nil {
			_ = m.registerer.Register(cv)
		}
		m.counters[name] = cv
	}
	m.mu.Unlock()
	cv.With(prometheus.Labels(dims)).Inc()
}

func sortedKeys(dims map[string]string) []string {
	out := make([]string, 0, len(dims))
	for k := range dims {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sanitizeMetricName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return "verification_core_" + string(out)
}
