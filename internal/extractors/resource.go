package extractors

import (
	"fmt"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Normalisation ceilings for resource samples.
const (
	maxCPUPercent = 100.0
	maxRAMMB      = 8192.0
	maxDiskMB     = 1000.0
	maxNetworkIO  = 100000.0
)

// ResourceExtractor spots resource spikes for a process/session.
type ResourceExtractor struct {
	scorer    OutlierScorer
	threshold float64
}

// NewResourceExtractor constructs a resource detector. Thresholds below
// DefaultResourceThreshold are raised to it.
func NewResourceExtractor(scorer OutlierScorer, threshold float64) *ResourceExtractor {
	if threshold < DefaultResourceThreshold {
		threshold = DefaultResourceThreshold
	}
	return &ResourceExtractor{scorer: orDefault(scorer), threshold: threshold}
}

// Detect scores a single resource sample.
func (e *ResourceExtractor) Detect(rec models.ResourceUsage) (models.AnomalyEvent, bool) {
	values, named := vector([]feature{
		{"cpu", capped(rec.CPUUsage, maxCPUPercent)},
		{"ram", capped(rec.RAMUsage, maxRAMMB)},
		{"disk", capped(rec.DiskUsage, maxDiskMB)},
		{"networkIO", capped(rec.NetworkIO, maxNetworkIO)},
	})

	score := e.scorer.Score(values)
	if score < e.threshold {
		return models.AnomalyEvent{}, false
	}

	description := fmt.Sprintf("Resource spike in process %s (cpu %.0f%%, ram %.0fMB)", rec.ProcessID, rec.CPUUsage, rec.RAMUsage)
	return newAnomaly(models.AnomalyResource, description, score, named, models.NewResourceRecord(rec)), true
}
