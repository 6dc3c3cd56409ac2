package core

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements apt.Metrics on a Prometheus registry. Counters are
// created on first use; request paths are collapsed so ids do not explode
// label cardinality.
type Metrics struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	requests *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)
	return &Metrics{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		requests: register(reg, requests),
	}
}

func (m *Metrics) Counter(_ context.Context, name string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
		if k == "path" {
			values[i] = Route(values[i])
		}
	}

	name = metricName(name)
	vec := m.counter(name, keys)
	if vec == nil {
		return
	}
	vec.WithLabelValues(values...).Add(value)
}

func (m *Metrics) ObserveHTTPRequest(path, method string, status int, duration time.Duration) {
	m.requests.WithLabelValues(method, Route(path), strconv.Itoa(status)).Observe(duration.Seconds())
}

// counter returns the vector for name, or nil when name was first seen with
// a different label set.
func (m *Metrics) counter(name string, keys []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := name + "{" + strings.Join(keys, ",") + "}"
	if vec, ok := m.counters[key]; ok {
		return vec
	}
	for k := range m.counters {
		if strings.HasPrefix(k, name+"{") {
			return nil
		}
	}
	vec := register(m.reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, keys))
	m.counters[key] = vec
	return vec
}

// register reuses an identical collector registered earlier, which happens
// when a service is wired more than once in one process.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// MountMetrics replaces the /metrics placeholder with the Prometheus handler.
// It is meant for apt.WithRouterConfigurator.
func MountMetrics(r *chi.Mux) {
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// Route collapses id segments: /orders/9b1d.../cancel becomes
// /orders/{id}/cancel.
func Route(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := uuid.Parse(s); err == nil {
			segments[i] = "{id}"
			continue
		}
		if _, err := strconv.ParseUint(s, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func metricName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == ':' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
