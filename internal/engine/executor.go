package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

var forensicArtifacts = []string{"memory_snapshot", "network_capture", "process_list", "session_log"}

// dispatch executes action and records the outcome in history.
func (e *ResponseEngine) dispatch(ctx context.Context, action models.ResponseAction, approvedBy string) models.ResponseAction {
	evidence, err := e.execute(ctx, action)

	now := e.clock()
	action.ExecutionTime = &now
	action.ApprovedBy = approvedBy
	if err != nil {
		action.Status = models.ActionFailed
		action.Error = err.Error()
		e.logger.Error("response action failed",
			slog.String("action", string(action.Action)),
			slog.String("target", action.TargetID),
			slog.Any("error", err),
		)
	} else {
		action.Status = models.ActionExecuted
		action.Evidence = evidence
		e.logger.Info("response action executed",
			slog.String("action", string(action.Action)),
			slog.String("target", action.TargetID),
		)
	}
	metrics.ObserveAction(string(action.Action), string(action.Status))

	e.mu.Lock()
	if i, ok := e.index[action.ID]; ok {
		e.history[i] = action
	}
	e.mu.Unlock()
	return action
}

func (e *ResponseEngine) execute(ctx context.Context, action models.ResponseAction) ([]string, error) {
	switch action.Action {
	case models.ActionLockSession:
		return nil, e.addToSet(e.lockedSessions, action.TargetID)
	case models.ActionSuspendUser:
		return nil, e.addToSet(e.suspendedUsers, action.TargetID)
	case models.ActionBlockIP:
		return nil, e.addToSet(e.blockedIPs, action.TargetID)
	case models.ActionRateLimit:
		return nil, e.rateLimit(action.TargetID)
	case models.ActionMFAChallenge, models.ActionAlertTeam, models.ActionEscalate:
		return nil, e.notifier.Notify(ctx, models.Notification{
			Action:    action.Action,
			ActionID:  action.ID,
			TargetID:  action.TargetID,
			AnomalyID: action.AnomalyID,
			Severity:  action.Severity,
			Reason:    action.Reason,
			Timestamp: e.clock(),
		})
	case models.ActionCaptureForensic:
		evidence := make([]string, 0, len(forensicArtifacts))
		for _, kind := range forensicArtifacts {
			evidence = append(evidence, fmt.Sprintf("evidence-%s-%s", kind, uuid.NewString()))
		}
		return evidence, nil
	default:
		return nil, fmt.Errorf("unsupported action %q", action.Action)
	}
}

func (e *ResponseEngine) addToSet(set map[string]struct{}, target string) error {
	if target == "" {
		return errors.New("no target resolved")
	}
	e.mu.Lock()
	set[target] = struct{}{}
	e.mu.Unlock()
	return nil
}

// rateLimit marks user as rate limited and (re)arms its expiry timer.
func (e *ResponseEngine) rateLimit(user string) error {
	if user == "" {
		return errors.New("no user to rate limit")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("response engine closed")
	}

	if existing, ok := e.timers[user]; ok {
		existing.timer.Stop()
	}
	e.rateLimited[user] = struct{}{}
	e.timerGen++
	gen := e.timerGen
	e.timers[user] = rateLimitTimer{
		gen:   gen,
		timer: time.AfterFunc(e.cfg.RateLimitDuration, func() { e.expireRateLimit(user, gen) }),
	}
	return nil
}

func (e *ResponseEngine) expireRateLimit(user string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, ok := e.timers[user]
	if !ok || current.gen != gen {
		return
	}
	delete(e.timers, user)
	delete(e.rateLimited, user)
	e.logger.Info("rate limit expired", slog.String("user", user))
}

// ApproveAction executes a pending action on behalf of analyst.
func (e *ResponseEngine) ApproveAction(ctx context.Context, id, analyst string) (models.ResponseAction, error) {
	e.mu.Lock()
	i, ok := e.index[id]
	if !ok {
		e.mu.Unlock()
		return models.ResponseAction{}, ErrActionNotFound
	}
	action := e.history[i]
	if action.Status != models.ActionPending {
		e.mu.Unlock()
		return action, ErrActionNotPending
	}
	// Claim the action so a concurrent approval cannot dispatch it twice.
	e.history[i].Status = models.ActionExecuted
	e.mu.Unlock()

	if analyst == "" {
		analyst = "analyst"
	}
	return e.dispatch(ctx, action, analyst), nil
}

// RevertAction removes the enforcement effect of an executed action.
func (e *ResponseEngine) RevertAction(id, analyst string) (models.ResponseAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[id]
	if !ok {
		return models.ResponseAction{}, ErrActionNotFound
	}
	action := e.history[i]
	if action.Status != models.ActionExecuted {
		return action, fmt.Errorf("revert %s action in status %s: %w", action.Action, action.Status, ErrActionNotRevertible)
	}

	switch action.Action {
	case models.ActionLockSession:
		delete(e.lockedSessions, action.TargetID)
	case models.ActionSuspendUser:
		delete(e.suspendedUsers, action.TargetID)
	case models.ActionBlockIP:
		delete(e.blockedIPs, action.TargetID)
	case models.ActionRateLimit:
		if t, ok := e.timers[action.TargetID]; ok {
			t.timer.Stop()
			delete(e.timers, action.TargetID)
		}
		delete(e.rateLimited, action.TargetID)
	default:
		return action, fmt.Errorf("revert %s: %w", action.Action, ErrActionNotRevertible)
	}

	action.Status = models.ActionReverted
	action.ApprovedBy = firstNonEmpty(analyst, action.ApprovedBy)
	e.history[i] = action
	metrics.ObserveAction(string(action.Action), string(models.ActionReverted))
	e.logger.Info("response action reverted",
		slog.String("action", string(action.Action)),
		slog.String("target", action.TargetID),
		slog.String("analyst", analyst),
	)
	return action, nil
}

// Action returns a recorded action by id.
func (e *ResponseEngine) Action(id string) (models.ResponseAction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[id]
	if !ok {
		return models.ResponseAction{}, false
	}
	return e.history[i], true
}

// History returns up to limit actions, newest first. limit <= 0 returns all.
func (e *ResponseEngine) History(limit int) []models.ResponseAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]models.ResponseAction, 0, limit)
	for i := len(e.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// IsSessionLocked reports whether id is in the locked-session set.
func (e *ResponseEngine) IsSessionLocked(id string) bool { return e.inSet(e.lockedSessions, id) }

// IsUserSuspended reports whether id is in the suspended-user set.
func (e *ResponseEngine) IsUserSuspended(id string) bool { return e.inSet(e.suspendedUsers, id) }

// IsIPBlocked reports whether ip is in the blocked-IP set.
func (e *ResponseEngine) IsIPBlocked(ip string) bool { return e.inSet(e.blockedIPs, ip) }

// IsUserRateLimited reports whether id is currently rate limited.
func (e *ResponseEngine) IsUserRateLimited(id string) bool { return e.inSet(e.rateLimited, id) }

// SubjectStatus answers every enforcement check for id at once.
func (e *ResponseEngine) SubjectStatus(id string) models.SubjectStatus {
	return models.SubjectStatus{
		SessionLocked:   e.IsSessionLocked(id),
		UserSuspended:   e.IsUserSuspended(id),
		IPBlocked:       e.IsIPBlocked(id),
		UserRateLimited: e.IsUserRateLimited(id),
	}
}

func (e *ResponseEngine) inSet(set map[string]struct{}, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := set[id]
	return ok
}

// Close stops pending rate-limit expiries. Rate-limited users stay limited.
func (e *ResponseEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for user, t := range e.timers {
		t.timer.Stop()
		delete(e.timers, user)
	}
	e.closed = true
	return nil
}
