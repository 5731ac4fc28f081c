package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const maxListLimit = 1000

// SentinelService is the transport-neutral facade over the monitoring engine used by the gRPC
// and REST surfaces.
type SentinelService struct {
	logger    *slog.Logger
	monitor   *engine.Monitor
	latencies *utils.LatencyTracker
	clock     func() time.Time
}

// NewSentinelService constructs the service facade.
func NewSentinelService(logger *slog.Logger, monitor *engine.Monitor) *SentinelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentinelService{
		logger:    logger,
		monitor:   monitor,
		latencies: utils.NewLatencyTracker(1024),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// IngestTelemetry scores one pushed record.
func (s *SentinelService) IngestTelemetry(ctx context.Context, rec models.TelemetryRecord) (models.IngestResult, error) {
	if s.monitor == nil {
		return models.IngestResult{}, utils.NewAppError("ingest", "monitor not configured", nil)
	}

	start := time.Now()
	anomalies, err := s.monitor.Ingest(ctx, rec)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTelemetry) {
			return models.IngestResult{}, utils.NewAppError("ingest", "rejected record", errors.Join(utils.ErrInvalidArgument, err))
		}
		return models.IngestResult{}, err
	}
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 100 && count%100 == 0 {
		s.logger.Info("ingest latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	if anomalies == nil {
		anomalies = []models.AnomalyEvent{}
	}
	return models.IngestResult{Accepted: true, Anomalies: anomalies}, nil
}

// RecentAnomalies returns up to limit anomalies, newest first.
func (s *SentinelService) RecentAnomalies(limit int) []models.AnomalyEvent {
	return s.monitor.Anomalies(clampLimit(limit))
}

// ActionHistory returns up to limit response actions, newest first.
func (s *SentinelService) ActionHistory(limit int) []models.ResponseAction {
	return s.monitor.Actions(clampLimit(limit))
}

// ListIncidents returns all or only active incidents.
func (s *SentinelService) ListIncidents(activeOnly bool) []models.IncidentRecord {
	return s.monitor.Incidents(activeOnly)
}

// GetIncident returns one incident.
func (s *SentinelService) GetIncident(id string) (models.IncidentRecord, error) {
	incident, ok := s.monitor.Incident(id)
	if !ok {
		return models.IncidentRecord{}, engine.ErrIncidentNotFound
	}
	return incident, nil
}

// SubjectStatus answers the enforcement checks for a user, session or IP.
func (s *SentinelService) SubjectStatus(id string) (models.SubjectStatus, error) {
	if strings.TrimSpace(id) == "" {
		return models.SubjectStatus{}, utils.InvalidArgument("subject status", "subject id is required")
	}
	return s.monitor.SubjectStatus(id), nil
}

// GetBaseline returns the learned profile of a subject.
func (s *SentinelService) GetBaseline(ctx context.Context, id string) (models.BaselineProfile, error) {
	if strings.TrimSpace(id) == "" {
		return models.BaselineProfile{}, utils.InvalidArgument("baseline", "subject id is required")
	}
	profile, ok := s.monitor.Baseline(ctx, id)
	if !ok {
		return models.BaselineProfile{}, engine.ErrBaselineNotFound
	}
	return profile, nil
}

// ResolveIncident closes an incident as resolved.
func (s *SentinelService) ResolveIncident(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return s.incidentCommand("resolve", cmd, func() bool {
		return s.monitor.ResolveIncident(ctx, cmd.IncidentID, cmd.Analyst, cmd.Resolution)
	})
}

// MarkFalsePositive closes an incident as a false positive.
func (s *SentinelService) MarkFalsePositive(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return s.incidentCommand("false positive", cmd, func() bool {
		return s.monitor.MarkAsFalsePositive(ctx, cmd.IncidentID, cmd.Analyst)
	})
}

// AssignIncident assigns an active incident.
func (s *SentinelService) AssignIncident(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	if strings.TrimSpace(cmd.Analyst) == "" {
		return models.IncidentRecord{}, utils.InvalidArgument("assign", "analyst is required")
	}
	return s.incidentCommand("assign", cmd, func() bool {
		return s.monitor.AssignIncident(ctx, cmd.IncidentID, cmd.Analyst)
	})
}

// ContainIncident marks an active incident contained.
func (s *SentinelService) ContainIncident(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error) {
	return s.incidentCommand("contain", cmd, func() bool {
		return s.monitor.ContainIncident(ctx, cmd.IncidentID, cmd.Analyst)
	})
}

func (s *SentinelService) incidentCommand(op string, cmd models.IncidentCommand, apply func() bool) (models.IncidentRecord, error) {
	if strings.TrimSpace(cmd.IncidentID) == "" {
		return models.IncidentRecord{}, utils.InvalidArgument(op, "incident id is required")
	}
	if !apply() {
		if _, ok := s.monitor.Incident(cmd.IncidentID); !ok {
			return models.IncidentRecord{}, engine.ErrIncidentNotFound
		}
		return models.IncidentRecord{}, utils.NewAppError(op, cmd.IncidentID, engine.ErrIncidentInactive)
	}
	s.logger.Info("incident command applied",
		slog.String("op", op),
		slog.String("incident", cmd.IncidentID),
		slog.String("analyst", cmd.Analyst),
	)
	return s.GetIncident(cmd.IncidentID)
}

// ApproveAction executes a pending response action.
func (s *SentinelService) ApproveAction(ctx context.Context, cmd models.ActionCommand) (models.ResponseAction, error) {
	if strings.TrimSpace(cmd.ActionID) == "" {
		return models.ResponseAction{}, utils.InvalidArgument("approve", "action id is required")
	}
	action, err := s.monitor.ApproveAction(ctx, cmd.ActionID, cmd.Analyst)
	if err != nil {
		return action, utils.NewAppError("approve", cmd.ActionID, err)
	}
	return action, nil
}

// RevertAction reverses an executed response action.
func (s *SentinelService) RevertAction(ctx context.Context, cmd models.ActionCommand) (models.ResponseAction, error) {
	if strings.TrimSpace(cmd.ActionID) == "" {
		return models.ResponseAction{}, utils.InvalidArgument("revert", "action id is required")
	}
	action, err := s.monitor.RevertAction(ctx, cmd.ActionID, cmd.Analyst)
	if err != nil {
		return action, utils.NewAppError("revert", cmd.ActionID, err)
	}
	return action, nil
}

// HealthCheck reports the current engine state.
func (s *SentinelService) HealthCheck(context.Context) models.HealthReport {
	if s.monitor == nil {
		return models.HealthReport{Status: "NOT_SERVING", CheckedAt: s.clock()}
	}
	monitoring, response := s.monitor.Config()
	return models.HealthReport{
		Status:            "SERVING",
		MonitoringEnabled: monitoring.Enabled,
		AutoResponse:      response.AutoResponseEnabled,
		RecentAnomalies:   len(s.monitor.Anomalies(0)),
		ActiveIncidents:   len(s.monitor.Incidents(true)),
		IngestP95:         s.LatencyP95(),
		CheckedAt:         s.clock(),
	}
}

// LatencyP95 returns the current p95 ingest latency.
func (s *SentinelService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
