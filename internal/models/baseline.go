package models

import "time"

// BaselineProfile is a learned picture of normal behaviour for one subject.
type BaselineProfile struct {
	SubjectID            string        `json:"subjectId"`
	AvgLoginHour         float64       `json:"avgLoginHour"`
	CommonLocations      []string      `json:"commonLocations"`
	TypicalDevices       []string      `json:"typicalDevices"`
	NormalActionRate     float64       `json:"normalActionRate"`
	UsualSessionDuration time.Duration `json:"usualSessionDuration"`
	BaselineUpdatedAt    time.Time     `json:"baselineUpdatedAt"`
	SampleSize           int           `json:"sampleSize"`
}

// KnownLocation reports whether loc is one of the profile's common locations.
func (b BaselineProfile) KnownLocation(loc string) bool {
	return containsString(b.CommonLocations, loc)
}

// KnownDevice reports whether device is one of the profile's typical devices.
func (b BaselineProfile) KnownDevice(device string) bool {
	return containsString(b.TypicalDevices, device)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
