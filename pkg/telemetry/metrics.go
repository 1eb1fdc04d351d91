package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upstwin/upstwin/pkg/types"
)

// Metrics holds the twin's Prometheus collectors on a private registry so
// multiple instances (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	mode         *prometheus.GaugeVec
	activeAlarms *prometheus.GaugeVec
	charge       *prometheus.GaugeVec
	loadKW       *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstwin_ticks_total",
			Help: "Total simulation ticks executed by topology.",
		}, []string{"topology"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstwin_rejected_actions_total",
			Help: "Breaker operations and commands refused by topology and kind.",
		}, []string{"topology", "kind"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upstwin_mode",
			Help: "Current operating mode (1 for the active mode).",
		}, []string{"topology", "mode"}),
		activeAlarms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upstwin_active_alarms",
			Help: "Number of active alarms by topology.",
		}, []string{"topology"}),
		charge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upstwin_battery_charge_percent",
			Help: "Battery state of charge by topology and module.",
		}, []string{"topology", "module"}),
		loadKW: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upstwin_load_kw",
			Help: "Active power drawn by the critical load.",
		}, []string{"topology"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstwin_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstwin_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.rejected,
		m.mode,
		m.activeAlarms,
		m.charge,
		m.loadKW,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Observe records the state after a tick.
func (m *Metrics) Observe(snap Snapshot) {
	if m == nil {
		return
	}
	topo := string(snap.Topology)
	m.ticks.WithLabelValues(topo).Inc()
	m.SetState(snap)
}

// SetState records gauges for snap without counting a tick.
func (m *Metrics) SetState(snap Snapshot) {
	if m == nil {
		return
	}
	topo := string(snap.Topology)
	m.mode.DeletePartialMatch(prometheus.Labels{"topology": topo})
	m.mode.WithLabelValues(topo, snap.Mode).Set(1)
	m.activeAlarms.WithLabelValues(topo).Set(float64(len(snap.Alarms)))
	for i, c := range snap.ChargeLevels {
		m.charge.WithLabelValues(topo, types.ModuleName(i)).Set(c)
	}
	m.loadKW.WithLabelValues(topo).Set(snap.LoadKW)
}

// Rejected counts a refused breaker operation or command.
func (m *Metrics) Rejected(topology types.Topology, kind Kind) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(topology), string(kind)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
