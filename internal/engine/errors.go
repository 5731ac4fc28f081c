package engine

import "errors"

var (
	// ErrActionNotFound is returned for unknown response action ids.
	ErrActionNotFound = errors.New("response action not found")
	// ErrActionNotPending is returned when approving an action that is not awaiting approval.
	ErrActionNotPending = errors.New("response action is not pending")
	// ErrActionNotRevertible is returned when reverting an action with no reversible effect.
	ErrActionNotRevertible = errors.New("response action cannot be reverted")
	// ErrIncidentNotFound is returned by transports for unknown incident ids.
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrIncidentInactive is returned when a command needs an incident that is still active.
	ErrIncidentInactive = errors.New("incident is no longer active")
	// ErrBaselineNotFound is returned when no profile has been learned for a subject.
	ErrBaselineNotFound = errors.New("baseline not found")
	// ErrInvalidTelemetry is returned for records whose kind and payload disagree.
	ErrInvalidTelemetry = errors.New("invalid telemetry record")
)
