package extractors

import (
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ExpectedTrafficVolume is the fixed traffic baseline for network deviation.
const ExpectedTrafficVolume = 50000.0

// ThreatIntel is the read-only view of the threat-intelligence store used by detectors.
type ThreatIntel interface {
	IsMaliciousIP(ip string) bool
	IsSuspiciousDomain(domain string) bool
	IsBlockedPort(port int) bool
}

// NetworkExtractor flags flows touching known-bad infrastructure or unusual volumes.
type NetworkExtractor struct {
	intel     ThreatIntel
	scorer    OutlierScorer
	threshold float64
}

// NewNetworkExtractor constructs a network detector backed by intel.
func NewNetworkExtractor(intel ThreatIntel, scorer OutlierScorer, threshold float64) *NetworkExtractor {
	if threshold <= 0 {
		threshold = DefaultNetworkThreshold
	}
	return &NetworkExtractor{intel: intel, scorer: orDefault(scorer), threshold: threshold}
}

// Detect scores a single flow.
func (e *NetworkExtractor) Detect(rec models.NetworkActivity) (models.AnomalyEvent, bool) {
	var suspiciousDomain, maliciousIP, blockedPort bool
	if e.intel != nil {
		suspiciousDomain = rec.Domain != "" && e.intel.IsSuspiciousDomain(rec.Domain)
		maliciousIP = e.intel.IsMaliciousIP(rec.DestinationIP)
		blockedPort = e.intel.IsBlockedPort(rec.Port)
	}
	hour := rec.Timestamp.Hour()
	offHours := !rec.Timestamp.IsZero() && (hour < 6 || hour >= 22)

	values, named := vector([]feature{
		{"suspiciousDomain", flag(suspiciousDomain)},
		{"maliciousIP", flag(maliciousIP)},
		{"blockedPort", flag(blockedPort)},
		{"trafficDeviation", capped(math.Abs(rec.TrafficVolume-ExpectedTrafficVolume), ExpectedTrafficVolume)},
		{"offHours", flag(offHours)},
	})

	score := e.scorer.Score(values)
	if score < e.threshold {
		return models.AnomalyEvent{}, false
	}

	var iocs []string
	if suspiciousDomain {
		iocs = append(iocs, "suspicious domain")
	}
	if maliciousIP {
		iocs = append(iocs, "malicious IP")
	}
	if blockedPort {
		iocs = append(iocs, "blocked port")
	}

	description := fmt.Sprintf("Anomalous %s traffic %s -> %s:%d", strings.ToUpper(rec.Protocol), rec.SourceIP, rec.DestinationIP, rec.Port)
	if len(iocs) > 0 {
		description += " (" + strings.Join(iocs, ", ") + ")"
	}

	anomaly := newAnomaly(models.AnomalyNetwork, description, score, named, models.NewNetworkRecord(rec))
	anomaly.IOCMatches = iocs
	return anomaly, true
}
