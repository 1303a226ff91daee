// Package telemetry exposes dispatch, listener and store metrics through
// Prometheus.
package telemetry

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"davhost/pkg/dispatch"
	"davhost/pkg/logger"
	"davhost/pkg/store"
)

const namespace = "davhost"

// methods with their own label value; everything else is "OTHER" so a
// client cannot blow up label cardinality.
var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodOptions: true, http.MethodPost: true,
	"MKCOL": true, "COPY": true, "MOVE": true, "PROPFIND": true,
	"PROPPATCH": true, "LOCK": true, "UNLOCK": true,
}

// Metrics implements dispatch.Observer and the listener reject hook.
type Metrics struct {
	reg *prometheus.Registry
	log *slog.Logger

	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	rejected   prometheus.Counter

	slowNanos atomic.Int64
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New(l *slog.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: logger.OrDefault(l),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched requests by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from accept to context close.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_in_flight",
			Help:      "Requests currently being dispatched.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_rejected_total",
			Help:      "Requests refused by the listener before dispatch.",
		}),
	}
	m.slowNanos.Store(int64(200 * time.Millisecond))
	m.reg.MustRegister(
		m.dispatched, m.duration, m.inFlight, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// pre-create series so dashboards see zeros
	for _, o := range dispatch.Outcomes() {
		m.duration.WithLabelValues(o.String())
	}
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SetSlowThreshold sets the duration above which a finished dispatch is
// logged as slow. Zero disables slow logging.
func (m *Metrics) SetSlowThreshold(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.slowNanos.Store(int64(d))
}

func (m *Metrics) Started(string) { m.inFlight.Inc() }

func (m *Metrics) Finished(method string, outcome dispatch.Outcome, status int, elapsed time.Duration) {
	m.inFlight.Dec()
	m.dispatched.WithLabelValues(MethodLabel(method), outcome.String()).Inc()
	m.duration.WithLabelValues(outcome.String()).Observe(elapsed.Seconds())
	if slow := time.Duration(m.slowNanos.Load()); slow > 0 && elapsed > slow {
		m.log.Warn("slow_dispatch", "method", method, "outcome", outcome.String(),
			"status", status, "elapsed_ms", elapsed.Milliseconds())
	}
}

// Rejected counts a request refused by a listener.
func (m *Metrics) Rejected(string) { m.rejected.Inc() }

// WatchStore registers gauges that read store and filesystem usage on
// every scrape. dir is the directory whose filesystem is reported; an
// empty dir skips the filesystem gauges.
func (m *Metrics) WatchStore(st store.Store, dir string) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_disk_bytes",
			Help:      "Bytes used by the store on disk.",
		}, func() float64 { return float64(st.DiskUsage()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_ready",
			Help:      "1 when the store accepts requests.",
		}, func() float64 {
			if st.Ready() {
				return 1
			}
			return 0
		}),
	)
	if dir == "" {
		return
	}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filesystem_free_bytes",
			Help:      "Free bytes on the filesystem holding the store.",
		}, func() float64 {
			free, _, _ := DiskSpace(dir)
			return float64(free)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filesystem_total_bytes",
			Help:      "Size of the filesystem holding the store.",
		}, func() float64 {
			_, total, _ := DiskSpace(dir)
			return float64(total)
		}),
	)
}

// MethodLabel maps a request method onto a bounded label set.
func MethodLabel(method string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if knownMethods[m] {
		return m
	}
	return "OTHER"
}
