package models

import "time"

// TelemetryKind tags the payload carried by a TelemetryRecord.
type TelemetryKind string

const (
	TelemetryUserBehavior TelemetryKind = "user_behavior"
	TelemetryNetwork      TelemetryKind = "network"
	TelemetryResource     TelemetryKind = "resource"
	TelemetryAPI          TelemetryKind = "api"
)

// UserBehavior is a login/session activity sample for one user.
type UserBehavior struct {
	UserID          string    `json:"userId"`
	LoginTime       time.Time `json:"loginTime"`
	Location        string    `json:"location"`
	Device          string    `json:"device"`
	ActionFrequency float64   `json:"actionFrequency"`
	IPAddress       string    `json:"ipAddress"`
	UserAgent       string    `json:"userAgent"`
}

// NetworkActivity is a single observed flow. UserID and SessionID are optional producer tags.
type NetworkActivity struct {
	Timestamp     time.Time `json:"timestamp"`
	SourceIP      string    `json:"sourceIp"`
	DestinationIP string    `json:"destinationIp"`
	Port          int       `json:"port"`
	Protocol      string    `json:"protocol"`
	TrafficVolume float64   `json:"trafficVolume"`
	IsOutbound    bool      `json:"isOutbound"`
	Domain        string    `json:"domain,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
}

// ResourceUsage is a host resource sample attributed to a process and session.
type ResourceUsage struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID string    `json:"processId"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	CPUUsage  float64   `json:"cpuUsage"`
	RAMUsage  float64   `json:"ramUsage"`
	DiskUsage float64   `json:"diskUsage"`
	NetworkIO float64   `json:"networkIo"`
}

// APIUsage is a single API call observation.
type APIUsage struct {
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	ResponseTime float64   `json:"responseTime"`
	StatusCode   int       `json:"statusCode"`
	UserID       string    `json:"userId,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	ErrorCount   int       `json:"errorCount"`
}

// IsError reports whether the call completed with a client or server error status.
func (a APIUsage) IsError() bool {
	return a.StatusCode >= 400
}

// TelemetryRecord is a tagged union over the four telemetry schemas. Exactly one payload
// matching Kind is set; use the constructors and accessors rather than the fields directly.
type TelemetryRecord struct {
	Kind         TelemetryKind    `json:"kind"`
	UserBehavior *UserBehavior    `json:"userBehavior,omitempty"`
	Network      *NetworkActivity `json:"network,omitempty"`
	Resource     *ResourceUsage   `json:"resource,omitempty"`
	API          *APIUsage        `json:"api,omitempty"`
}

func NewUserBehaviorRecord(ub UserBehavior) TelemetryRecord {
	return TelemetryRecord{Kind: TelemetryUserBehavior, UserBehavior: &ub}
}

func NewNetworkRecord(na NetworkActivity) TelemetryRecord {
	return TelemetryRecord{Kind: TelemetryNetwork, Network: &na}
}

func NewResourceRecord(ru ResourceUsage) TelemetryRecord {
	return TelemetryRecord{Kind: TelemetryResource, Resource: &ru}
}

func NewAPIRecord(au APIUsage) TelemetryRecord {
	return TelemetryRecord{Kind: TelemetryAPI, API: &au}
}

// AsUserBehavior returns the user-behavior payload when the record carries one.
func (r TelemetryRecord) AsUserBehavior() (UserBehavior, bool) {
	if r.Kind != TelemetryUserBehavior || r.UserBehavior == nil {
		return UserBehavior{}, false
	}
	return *r.UserBehavior, true
}

// AsNetwork returns the network payload when the record carries one.
func (r TelemetryRecord) AsNetwork() (NetworkActivity, bool) {
	if r.Kind != TelemetryNetwork || r.Network == nil {
		return NetworkActivity{}, false
	}
	return *r.Network, true
}

// AsResource returns the resource payload when the record carries one.
func (r TelemetryRecord) AsResource() (ResourceUsage, bool) {
	if r.Kind != TelemetryResource || r.Resource == nil {
		return ResourceUsage{}, false
	}
	return *r.Resource, true
}

// AsAPI returns the API payload when the record carries one.
func (r TelemetryRecord) AsAPI() (APIUsage, bool) {
	if r.Kind != TelemetryAPI || r.API == nil {
		return APIUsage{}, false
	}
	return *r.API, true
}

// Valid reports whether the tag and payload agree.
func (r TelemetryRecord) Valid() bool {
	switch r.Kind {
	case TelemetryUserBehavior:
		return r.UserBehavior != nil
	case TelemetryNetwork:
		return r.Network != nil
	case TelemetryResource:
		return r.Resource != nil
	case TelemetryAPI:
		return r.API != nil
	default:
		return false
	}
}

// Timestamp returns the observation time of the payload.
func (r TelemetryRecord) Timestamp() time.Time {
	switch {
	case r.UserBehavior != nil:
		return r.UserBehavior.LoginTime
	case r.Network != nil:
		return r.Network.Timestamp
	case r.Resource != nil:
		return r.Resource.Timestamp
	case r.API != nil:
		return r.API.Timestamp
	default:
		return time.Time{}
	}
}

// UserID returns the user attributed to the record, if any.
func (r TelemetryRecord) UserID() string {
	switch {
	case r.UserBehavior != nil:
		return r.UserBehavior.UserID
	case r.Network != nil:
		return r.Network.UserID
	case r.Resource != nil:
		return r.Resource.UserID
	case r.API != nil:
		return r.API.UserID
	default:
		return ""
	}
}

// SessionID returns the session attributed to the record, if any.
func (r TelemetryRecord) SessionID() string {
	switch {
	case r.Network != nil:
		return r.Network.SessionID
	case r.Resource != nil:
		return r.Resource.SessionID
	case r.API != nil:
		return r.API.SessionID
	default:
		return ""
	}
}

// SubjectID is the correlation subject: user, else session, else "unknown".
func (r TelemetryRecord) SubjectID() string {
	if id := r.UserID(); id != "" {
		return id
	}
	if id := r.SessionID(); id != "" {
		return id
	}
	return "unknown"
}
