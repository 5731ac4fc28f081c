package models

import "time"

// IncidentCommand carries an analyst action against an incident.
type IncidentCommand struct {
	IncidentID string `json:"incidentId"`
	Analyst    string `json:"analyst"`
	Resolution string `json:"resolution,omitempty"`
}

// ActionCommand carries an analyst action against a response action.
type ActionCommand struct {
	ActionID string `json:"actionId"`
	Analyst  string `json:"analyst"`
}

// IngestResult reports the anomalies raised by a single telemetry record.
type IngestResult struct {
	Accepted  bool           `json:"accepted"`
	Anomalies []AnomalyEvent `json:"anomalies"`
}

// HealthReport summarises engine state for probes and dashboards.
type HealthReport struct {
	Status            string        `json:"status"`
	MonitoringEnabled bool          `json:"monitoringEnabled"`
	AutoResponse      bool          `json:"autoResponseEnabled"`
	RecentAnomalies   int           `json:"recentAnomalies"`
	ActiveIncidents   int           `json:"activeIncidents"`
	IngestP95         time.Duration `json:"ingestP95"`
	CheckedAt         time.Time     `json:"checkedAt"`
}
