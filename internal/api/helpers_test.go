package api

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type fakeBackend struct {
	mu         sync.Mutex
	ingested   []models.TelemetryRecord
	lastLimit  int
	lastActive bool
	lastCmd    models.IncidentCommand
	incidents  map[string]models.IncidentRecord
	approveErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{incidents: map[string]models.IncidentRecord{
		"inc-1": {ID: "inc-1", Status: models.IncidentOpen, Severity: models.SeverityHigh, Title: "HIGH: test"},
	}}
}

func (f *fakeBackend) IngestTelemetry(_ context.Context, rec models.TelemetryRecord) (models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, rec)
	return models.IngestResult{Accepted: true, Anomalies: []models.AnomalyEvent{{ID: "a-1", Type: models.AnomalyNetwork, RiskScore: 0.9}}}, nil
}

func (f *fakeBackend) RecentAnomalies(limit int) []models.AnomalyEvent {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	return []models.AnomalyEvent{{ID: "a-1"}}
}

func (f *fakeBackend) ActionHistory(limit int) []models.ResponseAction {
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	return []models.ResponseAction{{ID: "act-1", Action: models.ActionAlertTeam, Status: models.ActionExecuted}}
}

func (f *fakeBackend) ListIncidents(activeOnly bool) []models.IncidentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActive = activeOnly
	out := make([]models.IncidentRecord, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, inc)
	}
	return out
}

func (f *fakeBackend) GetIncident(id string) (models.IncidentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok {
		return models.IncidentRecord{}, engine.ErrIncidentNotFound
	}
	return inc, nil
}

func (f *fakeBackend) SubjectStatus(id string) (models.SubjectStatus, error) {
	if id == "" {
		return models.SubjectStatus{}, utils.InvalidArgument("subject status", "subject id is required")
	}
	return models.SubjectStatus{IPBlocked: id == "10.0.0.5"}, nil
}

func (f *fakeBackend) GetBaseline(_ context.Context, id string) (models.BaselineProfile, error) {
	if id != "alice" {
		return models.BaselineProfile{}, engine.ErrBaselineNotFound
	}
	return models.BaselineProfile{SubjectID: "alice", AvgLoginHour: 9}, nil
}

func (f *fakeBackend) ResolveIncident(_ context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return f.transition(cmd, models.IncidentResolved)
}

func (f *fakeBackend) MarkFalsePositive(_ context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return f.transition(cmd, models.IncidentFalsePositive)
}

func (f *fakeBackend) AssignIncident(_ context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return f.transition(cmd, models.IncidentInvestigating)
}

func (f *fakeBackend) ContainIncident(_ context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return f.transition(cmd, models.IncidentContained)
}

func (f *fakeBackend) transition(cmd models.IncidentCommand, status models.IncidentStatus) (models.IncidentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCmd = cmd
	inc, ok := f.incidents[cmd.IncidentID]
	if !ok {
		return models.IncidentRecord{}, engine.ErrIncidentNotFound
	}
	if !inc.Status.Active() {
		return models.IncidentRecord{}, utils.NewAppError("transition", cmd.IncidentID, engine.ErrIncidentInactive)
	}
	inc.Status = status
	inc.AssignedTo = cmd.Analyst
	f.incidents[cmd.IncidentID] = inc
	return inc, nil
}

func (f *fakeBackend) ApproveAction(_ context.Context, cmd models.ActionCommand) (models.ResponseAction, error) {
	if f.approveErr != nil {
		return models.ResponseAction{}, f.approveErr
	}
	return models.ResponseAction{ID: cmd.ActionID, Status: models.ActionExecuted, ApprovedBy: cmd.Analyst}, nil
}

func (f *fakeBackend) RevertAction(_ context.Context, cmd models.ActionCommand) (models.ResponseAction, error) {
	return models.ResponseAction{}, utils.NewAppError("revert", cmd.ActionID, engine.ErrActionNotFound)
}

func (f *fakeBackend) HealthCheck(context.Context) models.HealthReport {
	return models.HealthReport{Status: "SERVING", MonitoringEnabled: true, CheckedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}
