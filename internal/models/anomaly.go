package models

import "time"

// AnomalyType enumerates the detector that produced an anomaly.
type AnomalyType string

const (
	AnomalyUserBehavior AnomalyType = "user_behavior"
	AnomalyNetwork      AnomalyType = "network"
	AnomalyResource     AnomalyType = "resource"
	AnomalyAPI          AnomalyType = "api"
	AnomalyCompound     AnomalyType = "compound"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities low < medium < high < critical. Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SeverityFromScore maps a risk score in [0,1] to a severity band.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 0.90:
		return SeverityCritical
	case score >= 0.80:
		return SeverityHigh
	case score >= 0.65:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyEvent is an immutable detection result.
type AnomalyEvent struct {
	ID               string             `json:"id"`
	Timestamp        time.Time          `json:"timestamp"`
	Type             AnomalyType        `json:"type"`
	Description      string             `json:"description"`
	RiskScore        float64            `json:"riskScore"`
	Severity         Severity           `json:"severity"`
	Features         map[string]float64 `json:"features"`
	SourceData       TelemetryRecord    `json:"sourceData"`
	CorrelatedEvents []string           `json:"correlatedEvents,omitempty"`
	IOCMatches       []string           `json:"iocMatches,omitempty"`
}

// SubjectID returns the user or session the anomaly is attributed to.
func (a AnomalyEvent) SubjectID() string {
	return a.SourceData.SubjectID()
}

// References reports whether id is this anomaly or one it correlates.
func (a AnomalyEvent) References(id string) bool {
	if a.ID == id {
		return true
	}
	for _, c := range a.CorrelatedEvents {
		if c == id {
			return true
		}
	}
	return false
}
