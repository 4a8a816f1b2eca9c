package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CK6170/Msectrax-go/session"
)

type Metrics struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	polls        *prometheus.CounterVec
	pollErrors   *prometheus.CounterVec
	adc          *prometheus.GaugeVec
	dac          *prometheus.GaugeVec
	cycleRate    *prometheus.GaugeVec
	clRate       *prometheus.GaugeVec
	wsClients    prometheus.Gauge
}

// NewMetrics registers on a private registry so several servers can live in
// one process.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msectrax_state_polls_total",
			Help: "QueryState answers received.",
		}, []string{"headstage"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msectrax_poll_errors_total",
			Help: "Monitor loops ended by a device error.",
		}, []string{"headstage"}),
		adc: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "msectrax_adc_counts",
			Help: "Last QPD reading in raw ADC counts.",
		}, []string{"headstage", "channel"}),
		dac: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "msectrax_dac_counts",
			Help: "Last galvo command in DAC counts.",
		}, []string{"headstage", "channel"}),
		cycleRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "msectrax_cycle_rate_hz",
			Help: "Controller cycles per second since configuration.",
		}, []string{"headstage"}),
		clRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "msectrax_cl_rate_hz",
			Help: "Closed-loop iterations per second.",
		}, []string{"headstage"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msectrax_ws_clients",
			Help: "Connected websocket clients.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.polls,
		m.pollErrors,
		m.adc,
		m.dac,
		m.cycleRate,
		m.clRate,
		m.wsClients,
	)
	return m
}

func (m *Metrics) Observe(u session.StateUpdate) {
	if m == nil {
		return
	}
	hs := u.HeadStage
	m.polls.WithLabelValues(hs).Inc()
	m.adc.WithLabelValues(hs, "adc1").Set(float64(u.State.ADC1))
	m.adc.WithLabelValues(hs, "adc2").Set(float64(u.State.ADC2))
	m.dac.WithLabelValues(hs, "dac1").Set(float64(u.State.DAC1))
	m.dac.WithLabelValues(hs, "dac2").Set(float64(u.State.DAC2))
	m.cycleRate.WithLabelValues(hs).Set(u.CycleRate)
	m.clRate.WithLabelValues(hs).Set(u.ClRate)
}

func (m *Metrics) PollError(headStage string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(headStage).Inc()
}

func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
