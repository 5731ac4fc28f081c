package models

import "time"

// EventType names an entry in the engine event log.
type EventType string

const (
	EventAnomalyDetected EventType = "anomaly_detected"
	EventActionCreated   EventType = "action_created"
	EventActionUpdated   EventType = "action_updated"
	EventIncidentUpdated EventType = "incident_updated"
)

// EngineEvent is one durable record of engine output. Exactly one payload is set.
type EngineEvent struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Anomaly   *AnomalyEvent   `json:"anomaly,omitempty"`
	Action    *ResponseAction `json:"action,omitempty"`
	Incident  *IncidentRecord `json:"incident,omitempty"`
}

// Key returns the partitioning key for the event.
func (e EngineEvent) Key() string {
	switch {
	case e.Incident != nil:
		return e.Incident.ID
	case e.Action != nil:
		return e.Action.AnomalyID
	case e.Anomaly != nil:
		return e.Anomaly.ID
	default:
		return string(e.Type)
	}
}
