package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const rateWindow = time.Minute

// ResponseConfig is the runtime policy configuration.
type ResponseConfig struct {
	AutoResponseEnabled bool
	CriticalThreshold   float64
	HighThreshold       float64
	MediumThreshold     float64
	// MaxActionsPerMinute caps dispatches in the trailing minute; zero disables the cap.
	MaxActionsPerMinute int
	RequireApprovalFor  []models.ActionKind
	RateLimitDuration   time.Duration
}

// DefaultResponseConfig mirrors the shipped configuration defaults.
func DefaultResponseConfig() ResponseConfig {
	return ResponseConfig{
		AutoResponseEnabled: true,
		CriticalThreshold:   0.85,
		HighThreshold:       0.80,
		MediumThreshold:     0.60,
		MaxActionsPerMinute: 10,
		RequireApprovalFor:  []models.ActionKind{models.ActionSuspendUser, models.ActionBlockIP},
		RateLimitDuration:   5 * time.Minute,
	}
}

// ResponseConfigFrom converts file configuration, dropping unknown action kinds.
func ResponseConfigFrom(cfg config.ResponseConfig, logger *slog.Logger) ResponseConfig {
	if logger == nil {
		logger = slog.Default()
	}
	out := ResponseConfig{
		AutoResponseEnabled: cfg.AutoResponseEnabled,
		CriticalThreshold:   cfg.CriticalThreshold,
		HighThreshold:       cfg.HighThreshold,
		MediumThreshold:     cfg.MediumThreshold,
		MaxActionsPerMinute: cfg.MaxActionsPerMinute,
		RateLimitDuration:   cfg.RateLimitDuration,
	}
	for _, raw := range cfg.RequireApprovalFor {
		kind, ok := models.ParseActionKind(raw)
		if !ok {
			logger.Warn("ignoring unknown approval action", slog.String("action", raw))
			continue
		}
		out.RequireApprovalFor = append(out.RequireApprovalFor, kind)
	}
	return out
}

func (c ResponseConfig) requiresApproval(kind models.ActionKind) bool {
	for _, k := range c.RequireApprovalFor {
		if k == kind {
			return true
		}
	}
	return false
}

// Notifier delivers alert, escalation and MFA notifications.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the logger only.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, note models.Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("response notification",
		slog.String("action", string(note.Action)),
		slog.String("target", note.TargetID),
		slog.String("severity", string(note.Severity)),
		slog.String("reason", note.Reason),
	)
	return nil
}

type rateLimitTimer struct {
	timer *time.Timer
	gen   uint64
}

// ResponseEngine maps anomalies to response actions and owns enforcement state. All state is
// guarded by mu; notifier calls run outside it.
type ResponseEngine struct {
	mu  sync.Mutex
	cfg ResponseConfig

	dispatches []time.Time
	history    []models.ResponseAction
	index      map[string]int

	lockedSessions map[string]struct{}
	suspendedUsers map[string]struct{}
	blockedIPs     map[string]struct{}
	rateLimited    map[string]struct{}
	timers         map[string]rateLimitTimer
	timerGen       uint64
	closed         bool

	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
}

// NewResponseEngine constructs a ResponseEngine.
func NewResponseEngine(cfg ResponseConfig, notifier Notifier, clock func() time.Time, logger *slog.Logger) *ResponseEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if clock == nil {
		clock = utcNow
	}
	if cfg.RateLimitDuration <= 0 {
		cfg.RateLimitDuration = 5 * time.Minute
	}
	return &ResponseEngine{
		cfg:            cfg,
		index:          make(map[string]int),
		lockedSessions: make(map[string]struct{}),
		suspendedUsers: make(map[string]struct{}),
		blockedIPs:     make(map[string]struct{}),
		rateLimited:    make(map[string]struct{}),
		timers:         make(map[string]rateLimitTimer),
		notifier:       notifier,
		clock:          clock,
		logger:         logger,
	}
}

// ApplyConfig swaps the policy configuration. Existing actions and timers are untouched.
func (e *ResponseEngine) ApplyConfig(cfg ResponseConfig) {
	if cfg.RateLimitDuration <= 0 {
		cfg.RateLimitDuration = 5 * time.Minute
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Config returns the active policy configuration.
func (e *ResponseEngine) Config() ResponseConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

type candidate struct {
	kind   models.ActionKind
	target string
}

// ProcessAnomaly creates the response actions for anomaly and dispatches those not held for
// approval. It returns nothing when auto-response is off, the score is below the medium tier,
// or the trailing-minute dispatch budget is spent.
func (e *ResponseEngine) ProcessAnomaly(ctx context.Context, anomaly models.AnomalyEvent) []models.ResponseAction {
	e.mu.Lock()
	cfg := e.cfg
	if !cfg.AutoResponseEnabled || e.closed {
		e.mu.Unlock()
		return nil
	}

	candidates := planActions(cfg, anomaly)
	if len(candidates) == 0 {
		e.mu.Unlock()
		return nil
	}

	now := e.clock()
	e.pruneDispatches(now)
	if cfg.MaxActionsPerMinute > 0 && len(e.dispatches) >= cfg.MaxActionsPerMinute {
		e.mu.Unlock()
		metrics.ObserveRateLimited()
		e.logger.Warn("response rate limit reached; no actions created",
			slog.String("anomaly", anomaly.ID),
			slog.Int("max_per_minute", cfg.MaxActionsPerMinute),
		)
		return nil
	}
	e.dispatches = append(e.dispatches, now)

	actions := make([]models.ResponseAction, 0, len(candidates))
	for _, c := range candidates {
		action := models.ResponseAction{
			ID:        uuid.NewString(),
			Timestamp: now,
			Action:    c.kind,
			TargetID:  c.target,
			Reason:    fmt.Sprintf("%s (risk %.2f)", anomaly.Description, anomaly.RiskScore),
			AnomalyID: anomaly.ID,
			Severity:  anomaly.Severity,
			Status:    models.ActionPending,
		}
		e.index[action.ID] = len(e.history)
		e.history = append(e.history, action)
		actions = append(actions, action)
	}
	e.mu.Unlock()

	for i := range actions {
		if cfg.requiresApproval(actions[i].Action) {
			metrics.ObserveAction(string(actions[i].Action), metrics.OutcomePending)
			e.logger.Info("response action awaiting approval",
				slog.String("action", string(actions[i].Action)),
				slog.String("target", actions[i].TargetID),
				slog.String("id", actions[i].ID),
			)
			continue
		}
		actions[i] = e.dispatch(ctx, actions[i], "")
	}
	return actions
}

// planActions returns the candidate actions of the single tier matching the anomaly score.
func planActions(cfg ResponseConfig, anomaly models.AnomalyEvent) []candidate {
	target := TargetID(anomaly)
	userID := anomaly.SourceData.UserID()

	var out []candidate
	switch score := anomaly.RiskScore; {
	case score >= cfg.CriticalThreshold:
		if target != "" {
			out = append(out, candidate{models.ActionLockSession, target})
		}
		if anomaly.Type == models.AnomalyUserBehavior && userID != "" {
			out = append(out, candidate{models.ActionSuspendUser, userID})
		}
		out = append(out,
			candidate{models.ActionCaptureForensic, target},
			candidate{models.ActionAlertTeam, target},
			candidate{models.ActionEscalate, target},
		)
	case score >= cfg.HighThreshold:
		if userID != "" {
			out = append(out, candidate{models.ActionRateLimit, userID})
		}
		if flow, ok := anomaly.SourceData.AsNetwork(); ok && anomaly.Type == models.AnomalyNetwork && flow.SourceIP != "" {
			out = append(out, candidate{models.ActionBlockIP, flow.SourceIP})
		}
		out = append(out, candidate{models.ActionAlertTeam, target})
	case score >= cfg.MediumThreshold:
		if anomaly.Type == models.AnomalyUserBehavior && userID != "" {
			out = append(out, candidate{models.ActionMFAChallenge, userID})
		}
		out = append(out, candidate{models.ActionCaptureForensic, target})
	}
	return out
}

// TargetID resolves the enforcement target for an anomaly by its type.
func TargetID(anomaly models.AnomalyEvent) string {
	src := anomaly.SourceData
	switch anomaly.Type {
	case models.AnomalyUserBehavior:
		if ub, ok := src.AsUserBehavior(); ok {
			return firstNonEmpty(ub.UserID, src.SessionID())
		}
	case models.AnomalyNetwork:
		if flow, ok := src.AsNetwork(); ok {
			return firstNonEmpty(flow.SessionID, flow.SourceIP)
		}
	case models.AnomalyResource:
		if usage, ok := src.AsResource(); ok {
			return firstNonEmpty(usage.ProcessID, usage.SessionID)
		}
	case models.AnomalyAPI:
		if call, ok := src.AsAPI(); ok {
			return firstNonEmpty(call.SessionID, call.UserID)
		}
	default:
		return "system"
	}
	return ""
}

func (e *ResponseEngine) pruneDispatches(now time.Time) {
	cutoff := now.Add(-rateWindow)
	keep := e.dispatches[:0]
	for _, ts := range e.dispatches {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	e.dispatches = keep
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
