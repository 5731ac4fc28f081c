package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, models.Notification) error { return nil }

func newTestService(t *testing.T) *SentinelService {
	t.Helper()
	monitor := engine.NewMonitor(engine.Options{
		Monitoring: config.Default().Monitoring,
		Notifier:   silentNotifier{},
	})
	t.Cleanup(func() { monitor.Close() })
	return NewSentinelService(nil, monitor)
}

func hostileFlow() models.TelemetryRecord {
	return models.NewNetworkRecord(models.NetworkActivity{
		Timestamp:     time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC),
		SourceIP:      "10.0.0.5",
		DestinationIP: "203.0.113.66",
		Port:          4444,
		Protocol:      "tcp",
		TrafficVolume: 250000,
		SessionID:     "sess-9",
	})
}

func TestIngestTelemetry(t *testing.T) {
	service := newTestService(t)

	result, err := service.IngestTelemetry(context.Background(), hostileFlow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Accepted || len(result.Anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %+v", result)
	}
	if len(service.RecentAnomalies(10)) != 1 || len(service.ListIncidents(true)) != 1 {
		t.Fatalf("expected anomaly and incident to be recorded")
	}
	if service.latencies.Count() != 1 {
		t.Fatalf("expected latency sample")
	}
}

func TestIngestTelemetryRejectsInvalid(t *testing.T) {
	service := newTestService(t)
	_, err := service.IngestTelemetry(context.Background(), models.TelemetryRecord{Kind: models.TelemetryResource})
	if !errors.Is(err, utils.ErrInvalidArgument) || !errors.Is(err, engine.ErrInvalidTelemetry) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestIncidentCommands(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	if _, err := service.IngestTelemetry(ctx, hostileFlow()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	incident := service.ListIncidents(false)[0]

	if _, err := service.AssignIncident(ctx, models.IncidentCommand{IncidentID: incident.ID}); !errors.Is(err, utils.ErrInvalidArgument) {
		t.Fatalf("expected analyst to be required, got %v", err)
	}
	assigned, err := service.AssignIncident(ctx, models.IncidentCommand{IncidentID: incident.ID, Analyst: "sam"})
	if err != nil || assigned.Status != models.IncidentInvestigating {
		t.Fatalf("assign: %v %+v", err, assigned)
	}

	resolved, err := service.ResolveIncident(ctx, models.IncidentCommand{IncidentID: incident.ID, Analyst: "sam", Resolution: "blocked at edge"})
	if err != nil || resolved.Status != models.IncidentResolved {
		t.Fatalf("resolve: %v %+v", err, resolved)
	}
	if _, err := service.ContainIncident(ctx, models.IncidentCommand{IncidentID: incident.ID}); !errors.Is(err, engine.ErrIncidentInactive) {
		t.Fatalf("expected inactive incident error, got %v", err)
	}
	if _, err := service.MarkFalsePositive(ctx, models.IncidentCommand{IncidentID: "missing"}); !errors.Is(err, engine.ErrIncidentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := service.GetIncident("missing"); !errors.Is(err, engine.ErrIncidentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActionCommandsAndStatus(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	if _, err := service.IngestTelemetry(ctx, hostileFlow()); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	st, err := service.SubjectStatus("sess-9")
	if err != nil || !st.SessionLocked {
		t.Fatalf("expected locked session, got %+v %v", st, err)
	}
	if _, err := service.SubjectStatus(" "); !errors.Is(err, utils.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	var lock models.ResponseAction
	for _, a := range service.ActionHistory(0) {
		if a.Action == models.ActionLockSession {
			lock = a
		}
	}
	if lock.ID == "" {
		t.Fatalf("expected lock_session action")
	}
	if _, err := service.ApproveAction(ctx, models.ActionCommand{ActionID: lock.ID}); !errors.Is(err, engine.ErrActionNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
	reverted, err := service.RevertAction(ctx, models.ActionCommand{ActionID: lock.ID, Analyst: "sam"})
	if err != nil || reverted.Status != models.ActionReverted {
		t.Fatalf("revert: %v %+v", err, reverted)
	}
	if st, _ := service.SubjectStatus("sess-9"); st.SessionLocked {
		t.Fatalf("expected session unlocked after revert")
	}
	if _, err := service.RevertAction(ctx, models.ActionCommand{ActionID: "nope"}); !errors.Is(err, engine.ErrActionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBaselineAndHealth(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.GetBaseline(ctx, "alice"); !errors.Is(err, engine.ErrBaselineNotFound) {
		t.Fatalf("expected baseline not found, got %v", err)
	}
	if _, err := service.IngestTelemetry(ctx, models.NewUserBehaviorRecord(models.UserBehavior{UserID: "alice", LoginTime: time.Now().UTC()})); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	service.monitor.RefreshBaselines(ctx)
	profile, err := service.GetBaseline(ctx, "alice")
	if err != nil || profile.SubjectID != "alice" {
		t.Fatalf("expected baseline for alice, got %+v %v", profile, err)
	}

	report := service.HealthCheck(ctx)
	if report.Status != "SERVING" || !report.MonitoringEnabled || !report.AutoResponse {
		t.Fatalf("unexpected health %+v", report)
	}
}
