package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	incidentMergeWindow = time.Hour
	systemActor         = "system"
)

// IncidentManager tracks incident lifecycles. Records are copied on the way out.
type IncidentManager struct {
	mu        sync.RWMutex
	incidents map[string]*models.IncidentRecord
	clock     func() time.Time
	logger    *slog.Logger
}

// NewIncidentManager constructs an empty IncidentManager.
func NewIncidentManager(clock func() time.Time, logger *slog.Logger) *IncidentManager {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = utcNow
	}
	return &IncidentManager{
		incidents: make(map[string]*models.IncidentRecord),
		clock:     clock,
		logger:    logger,
	}
}

// CreateOrUpdateIncident merges anomaly into an active incident updated within the last hour
// that already references it or one of its correlated anomalies, or opens a new incident.
func (m *IncidentManager) CreateOrUpdateIncident(anomaly models.AnomalyEvent, actions []models.ResponseAction) models.IncidentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	incident := m.findRelated(anomaly, now)
	event := "updated"

	if incident == nil {
		incident = &models.IncidentRecord{
			ID:          uuid.NewString(),
			CreatedAt:   now,
			UpdatedAt:   now,
			Title:       fmt.Sprintf("%s: %s", strings.ToUpper(string(anomaly.Severity)), anomaly.Description),
			Description: anomaly.Description,
			Severity:    anomaly.Severity,
			Status:      models.IncidentOpen,
			Anomalies:   []string{anomaly.ID},
			Timeline: []models.TimelineEntry{{
				Timestamp: now,
				Action:    "incident_created",
				Actor:     systemActor,
				Details:   fmt.Sprintf("Opened from %s anomaly %s (risk %.2f)", anomaly.Type, anomaly.ID, anomaly.RiskScore),
			}},
		}
		m.incidents[incident.ID] = incident
		event = "created"
	} else {
		if !incident.HasAnomaly(anomaly.ID) {
			incident.Anomalies = append(incident.Anomalies, anomaly.ID)
		}
		previous := incident.Severity
		incident.Severity = models.MaxSeverity(incident.Severity, anomaly.Severity)
		details := fmt.Sprintf("Correlated %s anomaly %s (risk %.2f)", anomaly.Type, anomaly.ID, anomaly.RiskScore)
		if incident.Severity != previous {
			details += fmt.Sprintf("; severity escalated %s -> %s", previous, incident.Severity)
		}
		incident.Timeline = append(incident.Timeline, models.TimelineEntry{
			Timestamp: now,
			Action:    "anomaly_correlated",
			Actor:     systemActor,
			Details:   details,
		})
		incident.UpdatedAt = now
	}

	for _, action := range actions {
		incident.ResponseActions = append(incident.ResponseActions, action.ID)
		if len(action.Evidence) > 0 {
			if incident.EvidencePackage == nil {
				incident.EvidencePackage = &models.EvidencePackage{}
			}
			incident.EvidencePackage.Artifacts = append(incident.EvidencePackage.Artifacts, action.Evidence...)
			incident.EvidencePackage.CollectedAt = now
		}
	}
	if len(actions) > 0 {
		incident.Timeline = append(incident.Timeline, models.TimelineEntry{
			Timestamp: now,
			Action:    "response_actions",
			Actor:     systemActor,
			Details:   describeActions(actions),
		})
	}

	metrics.ObserveIncident(event, m.activeLocked())
	m.logger.Debug("incident "+event,
		slog.String("incident", incident.ID),
		slog.String("anomaly", anomaly.ID),
		slog.String("severity", string(incident.Severity)),
	)
	return incident.Clone()
}

func (m *IncidentManager) findRelated(anomaly models.AnomalyEvent, now time.Time) *models.IncidentRecord {
	cutoff := now.Add(-incidentMergeWindow)
	var match *models.IncidentRecord
	for _, incident := range m.incidents {
		if !incident.Status.Active() || incident.UpdatedAt.Before(cutoff) {
			continue
		}
		related := false
		for _, id := range incident.Anomalies {
			if anomaly.References(id) {
				related = true
				break
			}
		}
		if related && (match == nil || incident.UpdatedAt.After(match.UpdatedAt)) {
			match = incident
		}
	}
	return match
}

// RecordActionUpdate appends a timeline entry to the incident holding action, if any.
func (m *IncidentManager) RecordActionUpdate(action models.ResponseAction, actor string) (models.IncidentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, incident := range m.incidents {
		for _, id := range incident.ResponseActions {
			if id != action.ID {
				continue
			}
			now := m.clock()
			incident.Timeline = append(incident.Timeline, models.TimelineEntry{
				Timestamp: now,
				Action:    "action_" + string(action.Status),
				Actor:     actor,
				Details:   fmt.Sprintf("%s on %s", action.Action, action.TargetID),
			})
			if len(action.Evidence) > 0 && action.Status == models.ActionExecuted {
				if incident.EvidencePackage == nil {
					incident.EvidencePackage = &models.EvidencePackage{}
				}
				incident.EvidencePackage.Artifacts = append(incident.EvidencePackage.Artifacts, action.Evidence...)
				incident.EvidencePackage.CollectedAt = now
			}
			incident.UpdatedAt = now
			return incident.Clone(), true
		}
	}
	return models.IncidentRecord{}, false
}

// MarkAsFalsePositive closes the incident as a false positive. Unknown ids return false.
func (m *IncidentManager) MarkAsFalsePositive(id, analyst string) bool {
	return m.transition(id, analyst, models.IncidentFalsePositive, "marked_false_positive", "Marked as false positive", true)
}

// ResolveIncident closes the incident as resolved. Unknown ids return false.
func (m *IncidentManager) ResolveIncident(id, analyst, resolution string) bool {
	details := "Resolved"
	if resolution != "" {
		details = "Resolved: " + resolution
	}
	return m.transition(id, analyst, models.IncidentResolved, "resolved", details, true)
}

// ContainIncident marks an active incident as contained.
func (m *IncidentManager) ContainIncident(id, analyst string) bool {
	return m.transition(id, analyst, models.IncidentContained, "contained", "Threat contained", false)
}

// AssignIncident sets the assignee of an active incident and moves open incidents to
// investigating.
func (m *IncidentManager) AssignIncident(id, analyst string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok || !incident.Status.Active() || analyst == "" {
		return false
	}
	now := m.clock()
	incident.AssignedTo = analyst
	if incident.Status == models.IncidentOpen {
		incident.Status = models.IncidentInvestigating
	}
	incident.Timeline = append(incident.Timeline, models.TimelineEntry{
		Timestamp: now,
		Action:    "assigned",
		Actor:     analyst,
		Details:   "Assigned to " + analyst,
	})
	incident.UpdatedAt = now
	metrics.ObserveIncident("assigned", m.activeLocked())
	return true
}

// transition moves an incident to status. Terminal transitions may overwrite a terminal
// status; other transitions require an active incident.
func (m *IncidentManager) transition(id, analyst string, status models.IncidentStatus, action, details string, terminal bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return false
	}
	if !terminal && !incident.Status.Active() {
		return false
	}
	if analyst == "" {
		analyst = "analyst"
	}
	now := m.clock()
	incident.Status = status
	incident.Timeline = append(incident.Timeline, models.TimelineEntry{
		Timestamp: now,
		Action:    action,
		Actor:     analyst,
		Details:   details,
	})
	incident.UpdatedAt = now
	metrics.ObserveIncident(string(status), m.activeLocked())
	m.logger.Info("incident transitioned",
		slog.String("incident", id),
		slog.String("status", string(status)),
		slog.String("analyst", analyst),
	)
	return true
}

// Incident returns a copy of the incident with id.
func (m *IncidentManager) Incident(id string) (models.IncidentRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	incident, ok := m.incidents[id]
	if !ok {
		return models.IncidentRecord{}, false
	}
	return incident.Clone(), true
}

// Incidents lists incidents newest first, optionally only the active ones.
func (m *IncidentManager) Incidents(activeOnly bool) []models.IncidentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.IncidentRecord, 0, len(m.incidents))
	for _, incident := range m.incidents {
		if activeOnly && !incident.Status.Active() {
			continue
		}
		out = append(out, incident.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *IncidentManager) activeLocked() int {
	n := 0
	for _, incident := range m.incidents {
		if incident.Status.Active() {
			n++
		}
	}
	return n
}

func describeActions(actions []models.ResponseAction) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%s:%s", a.Action, a.Status))
	}
	return strings.Join(parts, ", ")
}
