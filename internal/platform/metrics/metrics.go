package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus instruments for the subtitling engine.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	runsStartedTotal      prometheus.Counter
	slotsStartedTotal     prometheus.Counter
	captionsReceivedTotal prometheus.Counter
	captionsRejectedTotal prometheus.Counter
	fusedCaptionsTotal    prometheus.Counter
	wordsEmittedTotal     prometheus.Counter
	connectedClients      *prometheus.GaugeVec
	fragmentActive        prometheus.Gauge
}

// New creates and registers the engine's Prometheus metrics on a private
// registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		runsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_runs_started_total",
			Help: "Total number of live runs started",
		}),
		slotsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_slots_started_total",
			Help: "Total number of subtitling slots started",
		}),
		captionsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_captions_received_total",
			Help: "Total number of raw captions accepted by the submission gate",
		}),
		captionsRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_captions_rejected_total",
			Help: "Total number of captions rejected by the submission gate",
		}),
		fusedCaptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_fused_captions_total",
			Help: "Total number of fused captions emitted to spectators",
		}),
		wordsEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subtitler_words_emitted_total",
			Help: "Total number of paced word events broadcast to spectators",
		}),
		connectedClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subtitler_connected_clients",
			Help: "Number of connected realtime clients by role",
		}, []string{"role"}),
		fragmentActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "subtitler_fragment_active",
			Help: "1 while fragment mode is active, 0 otherwise",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.runsStartedTotal,
		m.slotsStartedTotal,
		m.captionsReceivedTotal,
		m.captionsRejectedTotal,
		m.fusedCaptionsTotal,
		m.wordsEmittedTotal,
		m.connectedClients,
		m.fragmentActive,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the error response counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncRunsStarted increments the runs started counter.
func (m *Metrics) IncRunsStarted() { m.runsStartedTotal.Inc() }

// IncSlotsStarted increments the slots started counter.
func (m *Metrics) IncSlotsStarted() { m.slotsStartedTotal.Inc() }

// IncCaptionsReceived increments the accepted caption counter.
func (m *Metrics) IncCaptionsReceived() { m.captionsReceivedTotal.Inc() }

// IncCaptionsRejected increments the rejected caption counter.
func (m *Metrics) IncCaptionsRejected() { m.captionsRejectedTotal.Inc() }

// IncFusedCaptions increments the fused caption counter.
func (m *Metrics) IncFusedCaptions() { m.fusedCaptionsTotal.Inc() }

// AddWordsEmitted adds n to the word event counter.
func (m *Metrics) AddWordsEmitted(n int) { m.wordsEmittedTotal.Add(float64(n)) }

// SetConnectedClients sets the connected client gauge for a role.
func (m *Metrics) SetConnectedClients(role string, n int) {
	m.connectedClients.WithLabelValues(role).Set(float64(n))
}

// SetFragmentActive sets the fragment-active gauge.
func (m *Metrics) SetFragmentActive(active bool) {
	if active {
		m.fragmentActive.Set(1)
	} else {
		m.fragmentActive.Set(0)
	}
}

// Handler returns an http.Handler that serves the metrics registry.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. connected client counts).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
