package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func newTestResponseEngine(clock *fakeClock, notifier Notifier) *ResponseEngine {
	return NewResponseEngine(DefaultResponseConfig(), notifier, clock.Now, nil)
}

func TestProcessAnomalyCriticalTier(t *testing.T) {
	clock := newFakeClock()
	engine := newTestResponseEngine(clock, &recordingNotifier{})
	defer engine.Close()

	actions := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, "alice", clock.Now(), 0.86))
	want := []models.ActionKind{
		models.ActionLockSession,
		models.ActionSuspendUser,
		models.ActionCaptureForensic,
		models.ActionAlertTeam,
		models.ActionEscalate,
	}
	if got := actionKinds(actions); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected actions %v", got)
	}

	suspend, _ := findAction(actions, models.ActionSuspendUser)
	if suspend.Status != models.ActionPending || suspend.ExecutionTime != nil {
		t.Fatalf("expected suspend_user pending, got %s", suspend.Status)
	}
	if engine.IsUserSuspended("alice") {
		t.Fatalf("pending suspension must not take effect")
	}
	lock, _ := findAction(actions, models.ActionLockSession)
	if lock.Status != models.ActionExecuted || lock.ExecutionTime == nil {
		t.Fatalf("expected lock_session executed, got %s", lock.Status)
	}
	if !engine.IsSessionLocked("alice") {
		t.Fatalf("expected alice locked")
	}
	forensics, _ := findAction(actions, models.ActionCaptureForensic)
	if len(forensics.Evidence) != 4 {
		t.Fatalf("expected 4 evidence artifacts, got %v", forensics.Evidence)
	}

	network := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyNetwork, "bob", clock.Now(), 0.86))
	if _, ok := findAction(network, models.ActionSuspendUser); ok {
		t.Fatalf("suspend_user only applies to user behaviour anomalies")
	}
	if len(network) != 4 {
		t.Fatalf("expected 4 actions for network critical, got %v", actionKinds(network))
	}
}

func TestProcessAnomalyLowerTiers(t *testing.T) {
	clock := newFakeClock()
	engine := newTestResponseEngine(clock, &recordingNotifier{})
	defer engine.Close()

	if got := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, "alice", clock.Now(), 0.55)); len(got) != 0 {
		t.Fatalf("expected no actions below medium, got %v", actionKinds(got))
	}

	high := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyNetwork, "bob", clock.Now(), 0.82))
	if got := actionKinds(high); !reflect.DeepEqual(got, []models.ActionKind{models.ActionRateLimit, models.ActionBlockIP, models.ActionAlertTeam}) {
		t.Fatalf("unexpected high tier actions %v", got)
	}

	medium := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, "carol", clock.Now(), 0.70))
	if got := actionKinds(medium); !reflect.DeepEqual(got, []models.ActionKind{models.ActionMFAChallenge, models.ActionCaptureForensic}) {
		t.Fatalf("unexpected medium tier actions %v", got)
	}

	resource := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyResource, "dave", clock.Now(), 0.70))
	if got := actionKinds(resource); !reflect.DeepEqual(got, []models.ActionKind{models.ActionCaptureForensic}) {
		t.Fatalf("unexpected medium resource actions %v", got)
	}
	if resource[0].TargetID != "proc-1" {
		t.Fatalf("expected process target, got %s", resource[0].TargetID)
	}
}

func TestApprovalGateBlocksIPUntilApproved(t *testing.T) {
	clock := newFakeClock()
	engine := newTestResponseEngine(clock, &recordingNotifier{})
	defer engine.Close()

	actions := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyNetwork, "bob", clock.Now(), 0.82))
	block, ok := findAction(actions, models.ActionBlockIP)
	if !ok {
		t.Fatalf("expected block_ip action")
	}
	if block.Status != models.ActionPending || block.TargetID != "10.0.0.5" {
		t.Fatalf("unexpected block action %+v", block)
	}
	if engine.IsIPBlocked("10.0.0.5") {
		t.Fatalf("ip must not be blocked before approval")
	}

	approved, err := engine.ApproveAction(context.Background(), block.ID, "sam")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.ActionExecuted || approved.ApprovedBy != "sam" {
		t.Fatalf("unexpected approved action %+v", approved)
	}
	if !engine.IsIPBlocked("10.0.0.5") {
		t.Fatalf("expected ip blocked after approval")
	}

	if _, err := engine.ApproveAction(context.Background(), block.ID, "sam"); !errors.Is(err, ErrActionNotPending) {
		t.Fatalf("expected ErrActionNotPending, got %v", err)
	}
	if _, err := engine.ApproveAction(context.Background(), "missing", "sam"); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}

	reverted, err := engine.RevertAction(block.ID, "sam")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Status != models.ActionReverted || engine.IsIPBlocked("10.0.0.5") {
		t.Fatalf("expected block reverted")
	}
	alert, _ := findAction(actions, models.ActionAlertTeam)
	if _, err := engine.RevertAction(alert.ID, "sam"); !errors.Is(err, ErrActionNotRevertible) {
		t.Fatalf("expected ErrActionNotRevertible, got %v", err)
	}
}

func TestRateLimiterCapsDispatchesPerMinute(t *testing.T) {
	clock := newFakeClock()
	engine := newTestResponseEngine(clock, &recordingNotifier{})
	defer engine.Close()

	for i := 0; i < 10; i++ {
		subject := fmt.Sprintf("user-%d", i)
		if got := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, subject, clock.Now(), 0.95)); len(got) == 0 {
			t.Fatalf("expected actions for call %d", i+1)
		}
		clock.Advance(time.Second)
	}
	if got := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, "user-10", clock.Now(), 0.95)); len(got) != 0 {
		t.Fatalf("expected 11th call to be rate limited, got %v", actionKinds(got))
	}

	clock.Advance(time.Minute)
	if got := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, "user-11", clock.Now(), 0.95)); len(got) == 0 {
		t.Fatalf("expected actions once the window has passed")
	}
}

func TestProcessAnomalyDisabled(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultResponseConfig()
	cfg.AutoResponseEnabled = false
	engine := NewResponseEngine(cfg, nil, clock.Now, nil)
	defer engine.Close()

	if got := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyUserBehavior, "alice", clock.Now(), 0.99)); got != nil {
		t.Fatalf("expected no actions when disabled")
	}
	if len(engine.History(0)) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestFailedNotificationDoesNotBlockSiblings(t *testing.T) {
	clock := newFakeClock()
	notifier := &recordingNotifier{failn: map[models.ActionKind]bool{models.ActionAlertTeam: true}}
	engine := newTestResponseEngine(clock, notifier)
	defer engine.Close()

	actions := engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyNetwork, "bob", clock.Now(), 0.9))
	alert, _ := findAction(actions, models.ActionAlertTeam)
	if alert.Status != models.ActionFailed || alert.Error == "" {
		t.Fatalf("expected alert_team failed, got %+v", alert)
	}
	escalate, _ := findAction(actions, models.ActionEscalate)
	if escalate.Status != models.ActionExecuted {
		t.Fatalf("expected escalate executed, got %s", escalate.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Action != models.ActionEscalate {
		t.Fatalf("expected escalate notification, got %+v", notifier.sent)
	}

	history := engine.History(2)
	if len(history) != 2 || history[0].ID != actions[len(actions)-1].ID {
		t.Fatalf("expected newest-first history")
	}
}

func TestRateLimitExpiresAndResets(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultResponseConfig()
	cfg.RateLimitDuration = 30 * time.Millisecond
	engine := NewResponseEngine(cfg, &recordingNotifier{}, clock.Now, nil)
	defer engine.Close()

	engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyNetwork, "erin", clock.Now(), 0.82))
	engine.ProcessAnomaly(context.Background(), anomalyFor(models.AnomalyAPI, "erin", clock.Now(), 0.82))
	if !engine.IsUserRateLimited("erin") {
		t.Fatalf("expected erin rate limited")
	}
	engine.mu.Lock()
	timers := len(engine.timers)
	engine.mu.Unlock()
	if timers != 1 {
		t.Fatalf("expected a single timer per user, got %d", timers)
	}

	deadline := time.Now().Add(2 * time.Second)
	for engine.IsUserRateLimited("erin") {
		if time.Now().After(deadline) {
			t.Fatalf("rate limit did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTargetIDByType(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		anomaly models.AnomalyEvent
		want    string
	}{
		{anomalyFor(models.AnomalyUserBehavior, "alice", ts, 0.7), "alice"},
		{models.AnomalyEvent{Type: models.AnomalyNetwork, SourceData: models.NewNetworkRecord(models.NetworkActivity{SourceIP: "10.0.0.7"})}, "10.0.0.7"},
		{models.AnomalyEvent{Type: models.AnomalyNetwork, SourceData: models.NewNetworkRecord(models.NetworkActivity{SourceIP: "10.0.0.7", SessionID: "s-9"})}, "s-9"},
		{models.AnomalyEvent{Type: models.AnomalyResource, SourceData: models.NewResourceRecord(models.ResourceUsage{SessionID: "s-2"})}, "s-2"},
		{models.AnomalyEvent{Type: models.AnomalyAPI, SourceData: models.NewAPIRecord(models.APIUsage{UserID: "u-3"})}, "u-3"},
		{models.AnomalyEvent{Type: models.AnomalyCompound}, "system"},
	}
	for _, tc := range cases {
		if got := TargetID(tc.anomaly); got != tc.want {
			t.Fatalf("TargetID(%s) = %q, want %q", tc.anomaly.Type, got, tc.want)
		}
	}
}
