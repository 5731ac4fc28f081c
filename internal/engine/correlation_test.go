package engine

import (
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/intel"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestDetectCompoundThreatsMultiVector(t *testing.T) {
	engine := NewCorrelationEngine(intel.NewStore(intel.DefaultFeed(), nil), nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	members := []models.AnomalyEvent{
		anomalyFor(models.AnomalyUserBehavior, "alice", base.Add(30*time.Second), 0.70),
		anomalyFor(models.AnomalyNetwork, "alice", base.Add(1*time.Minute), 0.70),
		anomalyFor(models.AnomalyResource, "alice", base.Add(2*time.Minute), 0.70),
	}

	compounds := engine.DetectCompoundThreats(members)
	if len(compounds) != 1 {
		t.Fatalf("expected 1 compound anomaly, got %d", len(compounds))
	}
	c := compounds[0]
	if c.Type != models.AnomalyCompound {
		t.Fatalf("unexpected type %s", c.Type)
	}
	if math.Abs(c.RiskScore-0.90) > 1e-9 {
		t.Fatalf("expected risk 0.90, got %v", c.RiskScore)
	}
	if len(c.CorrelatedEvents) != 3 {
		t.Fatalf("expected 3 correlated events, got %v", c.CorrelatedEvents)
	}
	for _, m := range members {
		if !c.References(m.ID) {
			t.Fatalf("compound missing member %s", m.ID)
		}
	}
	if len(c.IOCMatches) != 1 || c.IOCMatches[0] != PatternMultiVector {
		t.Fatalf("expected pattern ioc match, got %v", c.IOCMatches)
	}
	if !c.Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected compound timestamp of latest member, got %v", c.Timestamp)
	}

	again := engine.DetectCompoundThreats(members)
	if len(again) != 1 || again[0].ID != c.ID {
		t.Fatalf("expected re-run to yield the same compound id")
	}
}

func TestDetectCompoundThreatsBucketsBySubjectAndTime(t *testing.T) {
	engine := NewCorrelationEngine(nil, nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	sameBucket := []models.AnomalyEvent{
		anomalyFor(models.AnomalyUserBehavior, "alice", base.Add(1*time.Minute), 0.7),
		anomalyFor(models.AnomalyNetwork, "alice", base.Add(4*time.Minute), 0.7),
	}
	groups := groupAnomalies(sameBucket)
	if len(groups) != 1 || len(groups[0].members) != 2 {
		t.Fatalf("expected one group of two, got %d groups", len(groups))
	}

	split := []models.AnomalyEvent{
		anomalyFor(models.AnomalyUserBehavior, "alice", base.Add(4*time.Minute), 0.7),
		anomalyFor(models.AnomalyNetwork, "alice", base.Add(6*time.Minute), 0.7),
		anomalyFor(models.AnomalyResource, "alice", base.Add(6*time.Minute), 0.7),
	}
	if got := engine.DetectCompoundThreats(split); len(got) != 0 {
		t.Fatalf("expected bucket boundary to prevent compound, got %d", len(got))
	}

	otherSubjects := []models.AnomalyEvent{
		anomalyFor(models.AnomalyUserBehavior, "alice", base, 0.7),
		anomalyFor(models.AnomalyNetwork, "bob", base, 0.7),
		anomalyFor(models.AnomalyResource, "carol", base, 0.7),
	}
	if got := engine.DetectCompoundThreats(otherSubjects); len(got) != 0 {
		t.Fatalf("expected distinct subjects not to correlate")
	}
}

func TestDetectCompoundThreatsCredentialStuffing(t *testing.T) {
	engine := NewCorrelationEngine(nil, nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	login := anomalyFor(models.AnomalyUserBehavior, "mallory", base, 0.8)
	api := anomalyFor(models.AnomalyAPI, "mallory", base.Add(time.Minute), 0.7)
	api.Features["errorRate"] = 0.9

	compounds := engine.DetectCompoundThreats([]models.AnomalyEvent{login, api})
	if len(compounds) != 1 {
		t.Fatalf("expected credential stuffing compound, got %d", len(compounds))
	}
	if math.Abs(compounds[0].RiskScore-0.90) > 1e-9 {
		t.Fatalf("expected risk 0.90, got %v", compounds[0].RiskScore)
	}
	if compounds[0].IOCMatches != nil {
		t.Fatalf("expected no ioc matches without intel")
	}

	api.Features["errorRate"] = 0.5
	if got := engine.DetectCompoundThreats([]models.AnomalyEvent{login, api}); len(got) != 0 {
		t.Fatalf("expected error rate at 0.5 not to trigger")
	}
}

func TestDetectCompoundThreatsEmitsBothPatterns(t *testing.T) {
	engine := NewCorrelationEngine(nil, nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	api := anomalyFor(models.AnomalyAPI, "alice", base, 0.7)
	api.Features["errorRate"] = 1
	group := []models.AnomalyEvent{
		anomalyFor(models.AnomalyUserBehavior, "alice", base, 0.7),
		anomalyFor(models.AnomalyNetwork, "alice", base, 0.7),
		anomalyFor(models.AnomalyResource, "alice", base, 0.7),
		api,
	}
	compounds := engine.DetectCompoundThreats(group)
	if len(compounds) != 2 {
		t.Fatalf("expected two compounds, got %d", len(compounds))
	}
	if compounds[0].ID == compounds[1].ID {
		t.Fatalf("expected distinct compound ids")
	}
	if math.Abs(compounds[1].RiskScore-0.85) > 1e-9 {
		t.Fatalf("expected credential stuffing second with risk 0.85, got %v", compounds[1].RiskScore)
	}
}
