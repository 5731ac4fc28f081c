package extractors

import (
	"math"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Creation thresholds per detector. Resource spikes are noisier and need a higher score.
const (
	DefaultUserBehaviorThreshold = 0.60
	DefaultNetworkThreshold      = 0.60
	DefaultResourceThreshold     = 0.70
	DefaultAPIThreshold          = 0.65
)

// OutlierScorer turns a feature vector into a risk score in [0,1].
type OutlierScorer interface {
	Score(features []float64) float64
}

// ScorerFunc adapts a function to the OutlierScorer interface.
type ScorerFunc func(features []float64) float64

// Score implements OutlierScorer.
func (f ScorerFunc) Score(features []float64) float64 {
	return f(features)
}

// IsolationScorer is the deterministic isolation-style stand-in for a trained model.
// Features are normalised by the vector max, scored by mean distance from 0.5, and
// penalised by 0.2 for each extreme feature when the vector is wider than four.
type IsolationScorer struct{}

// Score implements OutlierScorer.
func (IsolationScorer) Score(features []float64) float64 {
	if len(features) == 0 {
		return 0
	}

	max := 0.0
	for _, f := range features {
		if v := sanitise(f); v > max {
			max = v
		}
	}

	// An all-zero vector has no shape to isolate.
	if max <= 0 {
		return 0
	}

	normalised := make([]float64, len(features))
	for i, f := range features {
		normalised[i] = clamp(sanitise(f)/max, 0, 1)
	}

	deviation := 0.0
	for _, v := range normalised {
		deviation += math.Abs(v - 0.5)
	}
	score := deviation / float64(len(normalised))

	if len(normalised) > 4 {
		for _, v := range normalised {
			if v > 0.9 || v < 0.1 {
				score += 0.2
			}
		}
	}

	return clamp(score, 0, 1)
}

type feature struct {
	name  string
	value float64
}

func vector(features []feature) ([]float64, map[string]float64) {
	values := make([]float64, len(features))
	named := make(map[string]float64, len(features))
	for i, f := range features {
		values[i] = f.value
		named[f.name] = f.value
	}
	return values, named
}

func newAnomaly(kind models.AnomalyType, description string, score float64, features map[string]float64, source models.TelemetryRecord) models.AnomalyEvent {
	ts := source.Timestamp()
	if ts.IsZero() {
		ts = timeNow()
	}
	return models.AnomalyEvent{
		ID:          uuid.NewString(),
		Timestamp:   ts,
		Type:        kind,
		Description: description,
		RiskScore:   score,
		Severity:    models.SeverityFromScore(score),
		Features:    features,
		SourceData:  source,
	}
}

func capped(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(sanitise(value)/limit, 0, 1)
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sanitise(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func orDefault(scorer OutlierScorer) OutlierScorer {
	if scorer == nil {
		return IsolationScorer{}
	}
	return scorer
}
