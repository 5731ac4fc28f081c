package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/extractors"
	"github.com/miradorstack/mirador-sentinel/internal/intel"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/telemetry"
)

// EventLog receives every anomaly, action and incident change the engine produces.
type EventLog interface {
	Publish(ctx context.Context, event models.EngineEvent) error
}

// Options wires a Monitor. Zero values fall back to defaults.
type Options struct {
	Monitoring  config.MonitoringConfig
	Response    *ResponseConfig
	Intel       *intel.Store
	Cache       cache.Provider
	BaselineTTL time.Duration
	Notifier    Notifier
	Events      EventLog
	Source      telemetry.Source
	Scorer      extractors.OutlierScorer
	Clock       func() time.Time
	Logger      *slog.Logger
}

type detectors struct {
	user     *extractors.UserBehaviorExtractor
	network  *extractors.NetworkExtractor
	resource *extractors.ResourceExtractor
	api      *extractors.APIExtractor
}

// Monitor is the detection-and-response engine: it buffers telemetry, scores it, correlates
// anomalies, dispatches responses and tracks incidents.
type Monitor struct {
	mu        sync.RWMutex
	cfg       config.MonitoringConfig
	detectors detectors
	scorer    extractors.OutlierScorer
	seen      map[string]struct{}

	users     *telemetry.RingBuffer[models.UserBehavior]
	network   *telemetry.RingBuffer[models.NetworkActivity]
	resources *telemetry.RingBuffer[models.ResourceUsage]
	calls     *telemetry.RingBuffer[models.APIUsage]
	anomalies *telemetry.RingBuffer[models.AnomalyEvent]

	intel       *intel.Store
	baselines   *BaselineLearner
	correlation *CorrelationEngine
	response    *ResponseEngine
	incidents   *IncidentManager
	events      EventLog
	source      telemetry.Source

	clock  func() time.Time
	logger *slog.Logger
}

// NewMonitor constructs a Monitor from opts.
func NewMonitor(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = utcNow
	}
	cfg := opts.Monitoring
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = 5 * time.Second
	}
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = 10 * time.Minute
	}
	if cfg.BaselineRefreshInterval <= 0 {
		cfg.BaselineRefreshInterval = 5 * time.Minute
	}
	store := opts.Intel
	if store == nil {
		store = intel.NewStore(intel.DefaultFeed(), logger)
	}
	responseCfg := DefaultResponseConfig()
	if opts.Response != nil {
		responseCfg = *opts.Response
	}

	m := &Monitor{
		cfg:         cfg,
		scorer:      opts.Scorer,
		seen:        make(map[string]struct{}),
		users:       telemetry.NewRingBuffer[models.UserBehavior](cfg.BufferSize),
		network:     telemetry.NewRingBuffer[models.NetworkActivity](cfg.BufferSize),
		resources:   telemetry.NewRingBuffer[models.ResourceUsage](cfg.BufferSize),
		calls:       telemetry.NewRingBuffer[models.APIUsage](cfg.BufferSize),
		anomalies:   telemetry.NewRingBuffer[models.AnomalyEvent](cfg.BufferSize),
		intel:       store,
		baselines:   NewBaselineLearner(cfg.BaselineWindowDays, opts.Cache, opts.BaselineTTL, clock, logger),
		correlation: NewCorrelationEngine(store, logger),
		response:    NewResponseEngine(responseCfg, opts.Notifier, clock, logger),
		incidents:   NewIncidentManager(clock, logger),
		events:      opts.Events,
		source:      opts.Source,
		clock:       clock,
		logger:      logger,
	}
	m.detectors = m.buildDetectors(cfg)
	return m
}

func (m *Monitor) buildDetectors(cfg config.MonitoringConfig) detectors {
	return detectors{
		user:     extractors.NewUserBehaviorExtractor(m.scorer, cfg.AnomalyThreshold),
		network:  extractors.NewNetworkExtractor(m.intel, m.scorer, cfg.AnomalyThreshold),
		resource: extractors.NewResourceExtractor(m.scorer, cfg.AnomalyThreshold),
		api:      extractors.NewAPIExtractor(m.scorer, cfg.AnomalyThreshold),
	}
}

// ApplyConfig hot-swaps monitoring and response configuration.
func (m *Monitor) ApplyConfig(monitoring config.MonitoringConfig, response ResponseConfig) {
	m.mu.Lock()
	if monitoring.BufferSize > 0 && monitoring.BufferSize != m.cfg.BufferSize {
		m.users.Resize(monitoring.BufferSize)
		m.network.Resize(monitoring.BufferSize)
		m.resources.Resize(monitoring.BufferSize)
		m.calls.Resize(monitoring.BufferSize)
		m.anomalies.Resize(monitoring.BufferSize)
	}
	m.cfg = monitoring
	m.detectors = m.buildDetectors(monitoring)
	m.mu.Unlock()

	m.baselines.SetWindowDays(monitoring.BaselineWindowDays)
	m.response.ApplyConfig(response)
	if g, ok := m.source.(interface{ SetInterval(time.Duration) }); ok {
		g.SetInterval(monitoring.SamplingInterval)
	}
	m.logger.Info("configuration applied",
		slog.Bool("enabled", monitoring.Enabled),
		slog.Float64("anomaly_threshold", monitoring.AnomalyThreshold),
		slog.Bool("auto_response", response.AutoResponseEnabled),
	)
}

func (m *Monitor) config() (config.MonitoringConfig, detectors) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.detectors
}

// Ingest buffers rec, scores it and handles any resulting anomaly. Records are dropped while
// monitoring is disabled.
func (m *Monitor) Ingest(ctx context.Context, rec models.TelemetryRecord) ([]models.AnomalyEvent, error) {
	if !rec.Valid() {
		return nil, fmt.Errorf("telemetry kind %q has no matching payload: %w", rec.Kind, ErrInvalidTelemetry)
	}
	cfg, det := m.config()
	if !cfg.Enabled {
		return nil, nil
	}

	start := time.Now()
	var (
		anomaly models.AnomalyEvent
		found   bool
	)
	switch rec.Kind {
	case models.TelemetryUserBehavior:
		ub, _ := rec.AsUserBehavior()
		m.users.Push(ub)
		if baseline, ok := m.baselines.Baseline(ctx, ub.UserID); ok {
			anomaly, found = det.user.Detect(ub, &baseline)
		}
	case models.TelemetryNetwork:
		flow, _ := rec.AsNetwork()
		m.network.Push(flow)
		anomaly, found = det.network.Detect(flow)
	case models.TelemetryResource:
		usage, _ := rec.AsResource()
		m.resources.Push(usage)
		anomaly, found = det.resource.Detect(usage)
	case models.TelemetryAPI:
		call, _ := rec.AsAPI()
		m.calls.Push(call)
		anomaly, found = det.api.Detect(call, m.calls.Snapshot())
	}
	metrics.ObserveTelemetry(string(rec.Kind), time.Since(start))

	if !found {
		return nil, nil
	}
	m.handle(ctx, anomaly)
	return []models.AnomalyEvent{anomaly}, nil
}

// Correlate runs compound detection over non-compound anomalies inside the correlation window
// and handles compounds not seen before.
func (m *Monitor) Correlate(ctx context.Context) []models.AnomalyEvent {
	cfg, _ := m.config()
	if !cfg.Enabled {
		return nil
	}
	cutoff := m.clock().Add(-cfg.CorrelationWindow)

	var window []models.AnomalyEvent
	for _, a := range m.anomalies.Snapshot() {
		if a.Type != models.AnomalyCompound && !a.Timestamp.Before(cutoff) {
			window = append(window, a)
		}
	}

	var fresh []models.AnomalyEvent
	for _, compound := range m.correlation.DetectCompoundThreats(window) {
		m.mu.Lock()
		_, dup := m.seen[compound.ID]
		if !dup {
			m.seen[compound.ID] = struct{}{}
		}
		m.mu.Unlock()
		if dup {
			continue
		}
		m.handle(ctx, compound)
		fresh = append(fresh, compound)
	}
	m.pruneSeen(cutoff)
	return fresh
}

// pruneSeen forgets compound ids whose anomaly has aged out of the log.
func (m *Monitor) pruneSeen(cutoff time.Time) {
	live := make(map[string]struct{})
	for _, a := range m.anomalies.Snapshot() {
		if a.Type == models.AnomalyCompound && !a.Timestamp.Before(cutoff) {
			live[a.ID] = struct{}{}
		}
	}
	m.mu.Lock()
	for id := range m.seen {
		if _, ok := live[id]; !ok {
			delete(m.seen, id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) handle(ctx context.Context, anomaly models.AnomalyEvent) {
	m.anomalies.Push(anomaly)
	metrics.ObserveAnomaly(string(anomaly.Type), string(anomaly.Severity))
	m.logger.Info("anomaly detected",
		slog.String("id", anomaly.ID),
		slog.String("type", string(anomaly.Type)),
		slog.String("severity", string(anomaly.Severity)),
		slog.Float64("risk", anomaly.RiskScore),
		slog.String("subject", anomaly.SubjectID()),
	)
	m.publish(ctx, models.EngineEvent{Type: models.EventAnomalyDetected, Anomaly: &anomaly})

	actions := m.response.ProcessAnomaly(ctx, anomaly)
	for i := range actions {
		m.publish(ctx, models.EngineEvent{Type: models.EventActionCreated, Action: &actions[i]})
	}

	incident := m.incidents.CreateOrUpdateIncident(anomaly, actions)
	m.publish(ctx, models.EngineEvent{Type: models.EventIncidentUpdated, Incident: &incident})
}

func (m *Monitor) publish(ctx context.Context, event models.EngineEvent) {
	if m.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock()
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("event log publish failed", slog.String("type", string(event.Type)), slog.Any("error", err))
	}
}

// RefreshBaselines rebuilds baselines for every user present in the behaviour buffer.
func (m *Monitor) RefreshBaselines(ctx context.Context) int {
	return m.baselines.Refresh(ctx, m.users.Snapshot())
}

// Run drives the telemetry source, the baseline refresher and the correlation ticker until
// ctx is cancelled or one of them fails.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if m.source != nil {
		g.Go(func() error {
			return m.source.Run(ctx, func(ctx context.Context, rec models.TelemetryRecord) {
				if _, err := m.Ingest(ctx, rec); err != nil {
					m.logger.Warn("telemetry rejected", slog.Any("error", err))
				}
			})
		})
	}

	g.Go(func() error {
		return m.every(ctx, func(c config.MonitoringConfig) time.Duration { return c.BaselineRefreshInterval }, func() {
			m.RefreshBaselines(ctx)
		})
	})
	g.Go(func() error {
		return m.every(ctx, func(c config.MonitoringConfig) time.Duration { return c.SamplingInterval }, func() {
			m.Correlate(ctx)
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// every runs fn on an interval re-read from configuration after each tick.
func (m *Monitor) every(ctx context.Context, interval func(config.MonitoringConfig) time.Duration, fn func()) error {
	next := func() time.Duration {
		cfg, _ := m.config()
		if d := interval(cfg); d > 0 {
			return d
		}
		return 5 * time.Second
	}
	timer := time.NewTimer(next())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			fn()
			timer.Reset(next())
		}
	}
}

// Close releases timers held by the response engine.
func (m *Monitor) Close() error {
	return m.response.Close()
}

// Anomalies returns up to limit anomalies, newest first.
func (m *Monitor) Anomalies(limit int) []models.AnomalyEvent {
	return m.anomalies.Recent(limit)
}

// Actions returns up to limit response actions, newest first.
func (m *Monitor) Actions(limit int) []models.ResponseAction {
	return m.response.History(limit)
}

// Incidents lists incidents, optionally only active ones.
func (m *Monitor) Incidents(activeOnly bool) []models.IncidentRecord {
	return m.incidents.Incidents(activeOnly)
}

// Incident returns one incident.
func (m *Monitor) Incident(id string) (models.IncidentRecord, bool) {
	return m.incidents.Incident(id)
}

// Baseline returns the learned profile for subjectID.
func (m *Monitor) Baseline(ctx context.Context, subjectID string) (models.BaselineProfile, bool) {
	return m.baselines.Baseline(ctx, subjectID)
}

// SubjectStatus answers the enforcement checks for id.
func (m *Monitor) SubjectStatus(id string) models.SubjectStatus {
	return m.response.SubjectStatus(id)
}

// ResolveIncident closes an incident as resolved.
func (m *Monitor) ResolveIncident(ctx context.Context, id, analyst, resolution string) bool {
	return m.afterTransition(ctx, id, m.incidents.ResolveIncident(id, analyst, resolution))
}

// MarkAsFalsePositive closes an incident as a false positive.
func (m *Monitor) MarkAsFalsePositive(ctx context.Context, id, analyst string) bool {
	return m.afterTransition(ctx, id, m.incidents.MarkAsFalsePositive(id, analyst))
}

// AssignIncident assigns an active incident to analyst.
func (m *Monitor) AssignIncident(ctx context.Context, id, analyst string) bool {
	return m.afterTransition(ctx, id, m.incidents.AssignIncident(id, analyst))
}

// ContainIncident marks an active incident contained.
func (m *Monitor) ContainIncident(ctx context.Context, id, analyst string) bool {
	return m.afterTransition(ctx, id, m.incidents.ContainIncident(id, analyst))
}

func (m *Monitor) afterTransition(ctx context.Context, id string, ok bool) bool {
	if !ok {
		return false
	}
	if incident, found := m.incidents.Incident(id); found {
		m.publish(ctx, models.EngineEvent{Type: models.EventIncidentUpdated, Incident: &incident})
	}
	return true
}

// ApproveAction executes a pending action and notes it on the owning incident.
func (m *Monitor) ApproveAction(ctx context.Context, id, analyst string) (models.ResponseAction, error) {
	action, err := m.response.ApproveAction(ctx, id, analyst)
	if err != nil {
		return action, err
	}
	m.afterAction(ctx, action, analyst)
	return action, nil
}

// RevertAction undoes an executed action and notes it on the owning incident.
func (m *Monitor) RevertAction(ctx context.Context, id, analyst string) (models.ResponseAction, error) {
	action, err := m.response.RevertAction(id, analyst)
	if err != nil {
		return action, err
	}
	m.afterAction(ctx, action, analyst)
	return action, nil
}

func (m *Monitor) afterAction(ctx context.Context, action models.ResponseAction, analyst string) {
	m.publish(ctx, models.EngineEvent{Type: models.EventActionUpdated, Action: &action})
	if incident, ok := m.incidents.RecordActionUpdate(action, firstNonEmpty(analyst, "analyst")); ok {
		m.publish(ctx, models.EngineEvent{Type: models.EventIncidentUpdated, Incident: &incident})
	}
}

// Intel exposes the threat-intelligence store for runtime updates.
func (m *Monitor) Intel() *intel.Store {
	return m.intel
}

// Config returns the active monitoring and response configuration.
func (m *Monitor) Config() (config.MonitoringConfig, ResponseConfig) {
	cfg, _ := m.config()
	return cfg, m.response.Config()
}
