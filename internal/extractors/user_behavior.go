package extractors

import (
	"fmt"
	"math"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// UserBehaviorExtractor compares a login/activity sample with the subject's baseline.
type UserBehaviorExtractor struct {
	scorer    OutlierScorer
	threshold float64
}

// NewUserBehaviorExtractor constructs a detector; a nil scorer uses IsolationScorer and a
// non-positive threshold uses DefaultUserBehaviorThreshold.
func NewUserBehaviorExtractor(scorer OutlierScorer, threshold float64) *UserBehaviorExtractor {
	if threshold <= 0 {
		threshold = DefaultUserBehaviorThreshold
	}
	return &UserBehaviorExtractor{scorer: orDefault(scorer), threshold: threshold}
}

// Detect scores rec against baseline. Without a baseline nothing is produced.
func (e *UserBehaviorExtractor) Detect(rec models.UserBehavior, baseline *models.BaselineProfile) (models.AnomalyEvent, bool) {
	if baseline == nil {
		return models.AnomalyEvent{}, false
	}

	hour := float64(rec.LoginTime.Hour())
	normalRate := math.Max(baseline.NormalActionRate, 1)

	values, named := vector([]feature{
		{"hourDeviation", capped(math.Abs(hour-baseline.AvgLoginHour), 12)},
		{"unknownLocation", flag(!baseline.KnownLocation(rec.Location))},
		{"unknownDevice", flag(!baseline.KnownDevice(rec.Device))},
		{"actionRateDeviation", capped(math.Abs(rec.ActionFrequency-baseline.NormalActionRate), normalRate)},
		{"actionFrequency", capped(rec.ActionFrequency, 100)},
	})

	score := e.scorer.Score(values)
	if score < e.threshold {
		return models.AnomalyEvent{}, false
	}

	description := fmt.Sprintf("Unusual activity for user %s", rec.UserID)
	switch {
	case named["unknownLocation"] == 1 && named["unknownDevice"] == 1:
		description = fmt.Sprintf("Login for user %s from unknown location %q on unknown device", rec.UserID, rec.Location)
	case named["unknownLocation"] == 1:
		description = fmt.Sprintf("Login for user %s from unknown location %q", rec.UserID, rec.Location)
	case named["unknownDevice"] == 1:
		description = fmt.Sprintf("Login for user %s from unknown device %q", rec.UserID, rec.Device)
	case named["hourDeviation"] >= 0.5:
		description = fmt.Sprintf("Login for user %s at unusual hour %02d:00", rec.UserID, rec.LoginTime.Hour())
	}

	return newAnomaly(models.AnomalyUserBehavior, description, score, named, models.NewUserBehaviorRecord(rec)), true
}
