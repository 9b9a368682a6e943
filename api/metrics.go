package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/notify"
)

// Metrics owns its registry so several routers (tests) never collide on the
// default one.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	operations *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "posledger_http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "posledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "posledger_ledger_operations_total",
			Help: "Ledger operations by name and result code (ok, idempotent, or an error code).",
		}, []string{"operation", "result"}),
	}
}

// WatchDispatcher exports the dispatcher's counters.
func (m *Metrics) WatchDispatcher(d *notify.Dispatcher) {
	f := promauto.With(m.registry)
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "posledger_events_published_total",
		Help: "Ledger events delivered to the broker.",
	}, func() float64 { return float64(d.Stats().Published) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "posledger_events_failed_total",
		Help: "Ledger events the broker rejected or timed out.",
	}, func() float64 { return float64(d.Stats().Failed) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "posledger_events_dropped_total",
		Help: "Ledger events dropped because the buffer was full.",
	}, func() float64 { return float64(d.Stats().Dropped) })
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) recordOperation(op string, idempotent bool, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = ledger.Code(err)
	case idempotent:
		result = "idempotent"
	}
	m.operations.WithLabelValues(op, result).Inc()
}
