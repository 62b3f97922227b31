// Package metrics exposes request and token counters for the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenkit"

func newCounterVec(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
}

// Metrics owns a private registry so several servers can live in one
// process.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	loads    *prometheus.CounterVec
}

func New() *Metrics {
	m := Metrics{
		registry: prometheus.NewRegistry(),
		requests: newCounterVec("http", "requests_total", "Number of HTTP requests.", "route", "method", "status"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"route"}),
		tokens: newCounterVec("tokenizer", "tokens_total", "Number of tokens produced or consumed.", "encoding", "op"),
		bytes:  newCounterVec("tokenizer", "bytes_total", "Number of text bytes encoded or decoded.", "encoding", "op"),
		loads:  newCounterVec("encodings", "loads_total", "Number of encoding load attempts.", "encoding", "result"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.tokens,
		m.bytes,
		m.loads,
	)

	return &m
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveTokens records op ("encode", "count" or "decode") over n tokens and
// size bytes of text.
func (m *Metrics) ObserveTokens(encoding, op string, n, size int) {
	m.tokens.WithLabelValues(encoding, op).Add(float64(n))
	m.bytes.WithLabelValues(encoding, op).Add(float64(size))
}

func (m *Metrics) ObserveLoad(encoding string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	m.loads.WithLabelValues(encoding, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
