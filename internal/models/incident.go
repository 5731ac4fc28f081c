package models

import "time"

// IncidentStatus is the analyst-facing lifecycle state.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentContained     IncidentStatus = "contained"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// Active reports whether the incident can still absorb new anomalies.
func (s IncidentStatus) Active() bool {
	switch s {
	case IncidentOpen, IncidentInvestigating, IncidentContained:
		return true
	default:
		return false
	}
}

// TimelineEntry records a notable progression in an incident.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details"`
}

// EvidencePackage aggregates forensic artifacts captured for an incident.
type EvidencePackage struct {
	Artifacts   []string  `json:"artifacts"`
	CollectedAt time.Time `json:"collectedAt"`
}

// IncidentRecord aggregates related anomalies and the actions taken for them.
type IncidentRecord struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Severity        Severity         `json:"severity"`
	Status          IncidentStatus   `json:"status"`
	AssignedTo      string           `json:"assignedTo,omitempty"`
	Anomalies       []string         `json:"anomalies"`
	ResponseActions []string         `json:"responseActions"`
	Timeline        []TimelineEntry  `json:"timeline"`
	EvidencePackage *EvidencePackage `json:"evidencePackage,omitempty"`
}

// Clone returns a deep copy safe to hand to callers outside the owning store.
func (i IncidentRecord) Clone() IncidentRecord {
	out := i
	out.Anomalies = append([]string(nil), i.Anomalies...)
	out.ResponseActions = append([]string(nil), i.ResponseActions...)
	out.Timeline = append([]TimelineEntry(nil), i.Timeline...)
	if i.EvidencePackage != nil {
		pkg := *i.EvidencePackage
		pkg.Artifacts = append([]string(nil), i.EvidencePackage.Artifacts...)
		out.EvidencePackage = &pkg
	}
	return out
}

// HasAnomaly reports whether id is already attached to the incident.
func (i IncidentRecord) HasAnomaly(id string) bool {
	for _, a := range i.Anomalies {
		if a == id {
			return true
		}
	}
	return false
}
