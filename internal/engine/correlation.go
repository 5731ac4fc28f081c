package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	correlationBucket = 5 * time.Minute

	// PatternMultiVector is emitted when user, network and resource anomalies share a bucket.
	PatternMultiVector = "multi-vector attack"
	// PatternCredentialStuffing is emitted when user anomalies coincide with failing API calls.
	PatternCredentialStuffing = "credential stuffing"

	multiVectorBoost        = 0.20
	credentialStuffingBoost = 0.15
	credentialErrorRate     = 0.5
)

// compoundNamespace seeds deterministic compound anomaly ids.
var compoundNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7a-9a51-2c4e7d9b0f13")

// PatternCatalog reports whether a named attack pattern is known to threat intelligence.
type PatternCatalog interface {
	IsKnownPattern(name string) bool
}

// CorrelationEngine groups independent anomalies by subject and time bucket and emits compound
// anomalies for recognised multi-signal patterns.
type CorrelationEngine struct {
	patterns PatternCatalog
	logger   *slog.Logger
}

// NewCorrelationEngine constructs a CorrelationEngine. patterns may be nil.
func NewCorrelationEngine(patterns PatternCatalog, logger *slog.Logger) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationEngine{patterns: patterns, logger: logger}
}

type anomalyGroup struct {
	subject string
	bucket  time.Time
	members []models.AnomalyEvent
}

// DetectCompoundThreats is idempotent: the same window yields compounds with the same ids.
// Compound inputs are ignored.
func (e *CorrelationEngine) DetectCompoundThreats(recent []models.AnomalyEvent) []models.AnomalyEvent {
	groups := groupAnomalies(recent)

	var out []models.AnomalyEvent
	for _, group := range groups {
		if len(group.members) < 2 {
			continue
		}

		types := make(map[models.AnomalyType]bool, 4)
		apiErrorSpike := false
		for _, member := range group.members {
			types[member.Type] = true
			if member.Type == models.AnomalyAPI && member.Features["errorRate"] > credentialErrorRate {
				apiErrorSpike = true
			}
		}

		if types[models.AnomalyUserBehavior] && types[models.AnomalyNetwork] && types[models.AnomalyResource] {
			out = append(out, e.compound(group, PatternMultiVector, multiVectorBoost))
		}
		if types[models.AnomalyAPI] && types[models.AnomalyUserBehavior] && apiErrorSpike {
			out = append(out, e.compound(group, PatternCredentialStuffing, credentialStuffingBoost))
		}
	}

	if len(out) > 0 {
		e.logger.Debug("compound threats detected", slog.Int("count", len(out)))
	}
	return out
}

// groupAnomalies buckets by (subject, 5 minute floor) preserving first-seen group order.
func groupAnomalies(recent []models.AnomalyEvent) []*anomalyGroup {
	index := make(map[string]*anomalyGroup)
	var ordered []*anomalyGroup
	for _, anomaly := range recent {
		if anomaly.Type == models.AnomalyCompound {
			continue
		}
		subject := anomaly.SubjectID()
		bucket := anomaly.Timestamp.UTC().Truncate(correlationBucket)
		key := subject + "|" + bucket.Format(time.RFC3339)

		group, ok := index[key]
		if !ok {
			group = &anomalyGroup{subject: subject, bucket: bucket}
			index[key] = group
			ordered = append(ordered, group)
		}
		group.members = append(group.members, anomaly)
	}
	return ordered
}

func (e *CorrelationEngine) compound(group *anomalyGroup, pattern string, boost float64) models.AnomalyEvent {
	ids := make([]string, 0, len(group.members))
	total := 0.0
	latest := group.members[0].Timestamp
	for _, member := range group.members {
		ids = append(ids, member.ID)
		total += member.RiskScore
		if member.Timestamp.After(latest) {
			latest = member.Timestamp
		}
	}
	avg := total / float64(len(group.members))
	score := math.Min(1, avg+boost)

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	id := uuid.NewSHA1(compoundNamespace, []byte(pattern+"|"+strings.Join(sorted, ","))).String()

	anomaly := models.AnomalyEvent{
		ID:          id,
		Timestamp:   latest,
		Type:        models.AnomalyCompound,
		Description: fmt.Sprintf("%s on %s (%d correlated anomalies)", pattern, group.subject, len(ids)),
		RiskScore:   score,
		Severity:    models.SeverityFromScore(score),
		Features: map[string]float64{
			"memberCount":  float64(len(ids)),
			"avgRiskScore": avg,
		},
		CorrelatedEvents: ids,
	}
	if e.patterns != nil && e.patterns.IsKnownPattern(pattern) {
		anomaly.IOCMatches = []string{pattern}
	}
	return anomaly
}
