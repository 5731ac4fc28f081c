package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeExecuted labels actions that ran to completion.
	OutcomeExecuted = "executed"
	// OutcomePending labels actions held for analyst approval.
	OutcomePending = "pending"
	// OutcomeFailed labels actions whose execution returned an error.
	OutcomeFailed = "failed"
)

var (
	telemetryRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "telemetry_records_total",
			Help:      "Telemetry records ingested, partitioned by kind.",
		},
		[]string{"kind"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "anomalies_total",
			Help:      "Anomalies produced, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	responseActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "response_actions_total",
			Help:      "Response actions created, partitioned by kind and outcome.",
		},
		[]string{"action", "outcome"},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "response_rate_limited_total",
			Help:      "Anomalies whose response was skipped by the global action rate limit.",
		},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "incidents_total",
			Help:      "Incident lifecycle events, partitioned by event.",
		},
		[]string{"event"},
	)

	activeIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "active_incidents",
			Help:      "Incidents currently open, investigating or contained.",
		},
	)

	scoringDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "scoring_seconds",
			Help:      "Per-record detection latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		},
		[]string{"kind"},
	)
)

// Register attaches mirador-sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		telemetryRecordsTotal,
		anomaliesTotal,
		responseActionsTotal,
		rateLimitedTotal,
		incidentsTotal,
		activeIncidents,
		scoringDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTelemetry records an ingested record and how long detection took.
func ObserveTelemetry(kind string, duration time.Duration) {
	telemetryRecordsTotal.WithLabelValues(kind).Inc()
	if duration < 0 {
		duration = 0
	}
	scoringDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveAnomaly counts a produced anomaly.
func ObserveAnomaly(kind, severity string) {
	anomaliesTotal.WithLabelValues(kind, severity).Inc()
}

// ObserveAction counts a response action by its post-dispatch status.
func ObserveAction(action, outcome string) {
	responseActionsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveRateLimited counts a dispatch dropped by the rate limiter.
func ObserveRateLimited() {
	rateLimitedTotal.Inc()
}

// ObserveIncident counts an incident lifecycle event and updates the active gauge.
func ObserveIncident(event string, active int) {
	incidentsTotal.WithLabelValues(event).Inc()
	activeIncidents.Set(float64(active))
}
