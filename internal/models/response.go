package models

import "time"

// ActionKind enumerates automated response actions.
type ActionKind string

const (
	ActionLockSession     ActionKind = "lock_session"
	ActionSuspendUser     ActionKind = "suspend_user"
	ActionBlockIP         ActionKind = "block_ip"
	ActionRateLimit       ActionKind = "rate_limit"
	ActionMFAChallenge    ActionKind = "mfa_challenge"
	ActionAlertTeam       ActionKind = "alert_team"
	ActionCaptureForensic ActionKind = "capture_forensics"
	ActionEscalate        ActionKind = "escalate"
)

// ParseActionKind returns the kind matching s.
func ParseActionKind(s string) (ActionKind, bool) {
	switch k := ActionKind(s); k {
	case ActionLockSession, ActionSuspendUser, ActionBlockIP, ActionRateLimit,
		ActionMFAChallenge, ActionAlertTeam, ActionCaptureForensic, ActionEscalate:
		return k, true
	default:
		return "", false
	}
}

// ActionStatus tracks dispatch outcome.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionExecuted ActionStatus = "executed"
	ActionFailed   ActionStatus = "failed"
	ActionReverted ActionStatus = "reverted"
)

// ResponseAction is a single response step derived from an anomaly.
type ResponseAction struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	Action        ActionKind   `json:"action"`
	TargetID      string       `json:"targetId"`
	Reason        string       `json:"reason"`
	AnomalyID     string       `json:"anomalyId"`
	Severity      Severity     `json:"severity"`
	Status        ActionStatus `json:"status"`
	ExecutionTime *time.Time   `json:"executionTime,omitempty"`
	Evidence      []string     `json:"evidence,omitempty"`
	Error         string       `json:"error,omitempty"`
	ApprovedBy    string       `json:"approvedBy,omitempty"`
}

// SubjectStatus answers the per-subject enforcement checks.
type SubjectStatus struct {
	SessionLocked   bool `json:"isSessionLocked"`
	UserSuspended   bool `json:"isUserSuspended"`
	IPBlocked       bool `json:"isIpBlocked"`
	UserRateLimited bool `json:"isUserRateLimited"`
}

// Notification is the payload handed to the notifier for alert, escalation and MFA actions.
type Notification struct {
	Action    ActionKind `json:"action"`
	ActionID  string     `json:"actionId"`
	TargetID  string     `json:"targetId"`
	AnomalyID string     `json:"anomalyId"`
	Severity  Severity   `json:"severity"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}
