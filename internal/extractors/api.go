package extractors

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// APIWindow is the look-back used to compute call and error rates.
const APIWindow = 60 * time.Second

// APIExtractor spots bursts of calls and errors against an endpoint.
type APIExtractor struct {
	scorer    OutlierScorer
	threshold float64
}

// NewAPIExtractor constructs an API-usage detector. Thresholds below DefaultAPIThreshold
// are raised to it.
func NewAPIExtractor(scorer OutlierScorer, threshold float64) *APIExtractor {
	if threshold < DefaultAPIThreshold {
		threshold = DefaultAPIThreshold
	}
	return &APIExtractor{scorer: orDefault(scorer), threshold: threshold}
}

// Detect scores rec against recent calls. Only calls for the same endpoint and user within
// APIWindow before rec are counted; rec itself is counted once whether or not recent holds it.
func (e *APIExtractor) Detect(rec models.APIUsage, recent []models.APIUsage) (models.AnomalyEvent, bool) {
	window := WindowFor(rec, recent)

	calls := len(window)
	errorsInWindow := 0
	for _, call := range window {
		if call.IsError() {
			errorsInWindow++
		}
	}
	errorRate := 0.0
	if calls > 0 {
		errorRate = float64(errorsInWindow) / float64(calls)
	}

	values, named := vector([]feature{
		{"callRate", capped(float64(calls), 100)},
		{"errorRate", errorRate},
		{"responseTime", capped(rec.ResponseTime, 5000)},
		{"isError", flag(rec.IsError())},
		{"errorCount", capped(float64(rec.ErrorCount), 10)},
	})

	score := e.scorer.Score(values)
	if score < e.threshold {
		return models.AnomalyEvent{}, false
	}

	description := fmt.Sprintf("Abnormal API usage on %s %s (%d calls/min, %.0f%% errors)", rec.Method, rec.Endpoint, calls, errorRate*100)
	return newAnomaly(models.AnomalyAPI, description, score, named, models.NewAPIRecord(rec)), true
}

// WindowFor returns the calls in recent matching rec's endpoint and user within APIWindow,
// with rec appended when it is not already present.
func WindowFor(rec models.APIUsage, recent []models.APIUsage) []models.APIUsage {
	start := rec.Timestamp.Add(-APIWindow)
	window := make([]models.APIUsage, 0, len(recent)+1)
	seen := false
	for _, call := range recent {
		if call.Endpoint != rec.Endpoint || call.UserID != rec.UserID {
			continue
		}
		if call.Timestamp.Before(start) || call.Timestamp.After(rec.Timestamp) {
			continue
		}
		if call == rec {
			seen = true
		}
		window = append(window, call)
	}
	if !seen {
		window = append(window, rec)
	}
	return window
}
