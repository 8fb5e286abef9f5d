package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the engine.
type Registry struct {
	// Scan pipeline
	PhaseDuration *prometheus.HistogramVec
	ActiveScans   prometheus.Gauge
	TotalScans    prometheus.Counter

	// Source cache
	SourceFetches *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge

	// Detectors
	DetectorDuration *prometheus.HistogramVec

	// Gate and routing
	GateDrops      *prometheus.CounterVec
	Opportunities  *prometheus.CounterVec
	SinkDeliveries *prometheus.CounterVec

	// Ledger
	Predictions *prometheus.CounterVec
}

// NewRegistry creates the metrics registry and registers every metric
// with the default Prometheus registerer.
func NewRegistry() *Registry {
	registry := &Registry{
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgewatch_scan_phase_seconds",
				Help:    "Duration of each scan phase in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"phase", "result"},
		),

		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgewatch_active_scans",
				Help: "Number of currently running scans",
			},
		),

		TotalScans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "edgewatch_scans_total",
				Help: "Total number of scans started",
			},
		),

		SourceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgewatch_source_fetches_total",
				Help: "Source cache lookups by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edgewatch_cache_hit_ratio",
				Help: "Fraction of source lookups served from fresh cache (0.0 to 1.0)",
			},
		),

		DetectorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgewatch_detector_seconds",
				Help:    "Detector evaluation time in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
			},
			[]string{"detector", "result"},
		),

		GateDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgewatch_gate_drops_total",
				Help: "Opportunities dropped at the gate by reason",
			},
			[]string{"reason"},
		),

		Opportunities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgewatch_opportunities_total",
				Help: "Opportunities routed to sinks by channel and urgency",
			},
			[]string{"channel", "urgency"},
		),

		SinkDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgewatch_sink_deliveries_total",
				Help: "Sink delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		),

		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgewatch_predictions_total",
				Help: "Ledger prediction records by lifecycle event",
			},
			[]string{"event"},
		),
	}

	prometheus.MustRegister(
		registry.PhaseDuration,
		registry.ActiveScans,
		registry.TotalScans,
		registry.SourceFetches,
		registry.CacheHitRatio,
		registry.DetectorDuration,
		registry.GateDrops,
		registry.Opportunities,
		registry.SinkDeliveries,
		registry.Predictions,
	)

	return registry
}

// Fetch outcome labels for SourceFetches.
const (
	OutcomeFresh  = "fresh"  // fetched from the provider
	OutcomeCached = "cached" // served within TTL
	OutcomeStale  = "stale"  // fetch failed, stale payload served
	OutcomeMiss   = "miss"   // nothing cached and fetch failed
)

// PhaseTimer tracks execution time for one scan phase.
type PhaseTimer struct {
	metrics *Registry
	phase   string
	start   time.Time
}

// StartPhaseTimer begins timing a scan phase.
func (m *Registry) StartPhaseTimer(phase string) *PhaseTimer {
	return &PhaseTimer{metrics: m, phase: phase, start: time.Now()}
}

// Stop records the elapsed phase time under the given result label.
func (pt *PhaseTimer) Stop(result string) {
	if pt == nil || pt.metrics == nil {
		return
	}
	duration := time.Since(pt.start)
	pt.metrics.PhaseDuration.WithLabelValues(pt.phase, result).Observe(duration.Seconds())

	log.Debug().
		Str("phase", pt.phase).
		Str("result", result).
		Dur("duration", duration).
		Msg("scan phase completed")
}

// Handler returns the Prometheus scrape handler.
func (m *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// Default is the process-wide metrics registry. It stays nil until
// Initialize runs; the package helpers no-op on nil so library code
// and tests never have to care.
var Default *Registry

// Initialize creates the global registry. Call once from main.
func Initialize() {
	Default = NewRegistry()
	log.Info().Msg("prometheus metrics registry initialized")
}

// RecordSourceFetch counts one source lookup outcome and refreshes the
// hit-ratio gauge.
func RecordSourceFetch(source, outcome string) {
	if Default == nil {
		return
	}
	Default.SourceFetches.WithLabelValues(source, outcome).Inc()
	Default.updateCacheHitRatio()
}

// RecordDetector records one detector evaluation.
func RecordDetector(detector string, duration time.Duration, result string) {
	if Default == nil {
		return
	}
	Default.DetectorDuration.WithLabelValues(detector, result).Observe(duration.Seconds())
}

// RecordGateDrop counts one gate rejection.
func RecordGateDrop(reason string) {
	if Default == nil {
		return
	}
	Default.GateDrops.WithLabelValues(reason).Inc()
}

// RecordOpportunity counts one routed opportunity.
func RecordOpportunity(channel, urgency string) {
	if Default == nil {
		return
	}
	Default.Opportunities.WithLabelValues(channel, urgency).Inc()
}

// RecordSinkDelivery counts one delivery attempt.
func RecordSinkDelivery(channel, result string) {
	if Default == nil {
		return
	}
	Default.SinkDeliveries.WithLabelValues(channel, result).Inc()
}

// RecordPrediction counts one ledger lifecycle event.
func RecordPrediction(event string) {
	if Default == nil {
		return
	}
	Default.Predictions.WithLabelValues(event).Inc()
}

// ScanStarted marks a scan as active.
func ScanStarted() {
	if Default == nil {
		return
	}
	Default.ActiveScans.Inc()
	Default.TotalScans.Inc()
}

// ScanFinished marks a scan as done.
func ScanFinished() {
	if Default == nil {
		return
	}
	Default.ActiveScans.Dec()
}

// StartPhase begins timing a phase against the global registry. The
// returned timer is safe to Stop even when metrics are uninitialized.
func StartPhase(phase string) *PhaseTimer {
	if Default == nil {
		return nil
	}
	return Default.StartPhaseTimer(phase)
}
