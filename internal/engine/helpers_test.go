package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, err := c.Get(ctx, key); err == nil {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Close() error { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []models.Notification
	failn map[models.ActionKind]bool
}

func (n *recordingNotifier) Notify(_ context.Context, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failn[note.Action] {
		return errors.New("webhook unavailable")
	}
	n.sent = append(n.sent, note)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.EngineEvent
}

func (r *recordingEvents) Publish(_ context.Context, event models.EngineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) count(kind models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}

var anomalySeq int

// anomalyFor builds an anomaly of kind attributed to subject.
func anomalyFor(kind models.AnomalyType, subject string, ts time.Time, score float64) models.AnomalyEvent {
	var src models.TelemetryRecord
	switch kind {
	case models.AnomalyUserBehavior:
		src = models.NewUserBehaviorRecord(models.UserBehavior{UserID: subject, LoginTime: ts, Location: "Lagos"})
	case models.AnomalyNetwork:
		src = models.NewNetworkRecord(models.NetworkActivity{Timestamp: ts, UserID: subject, SourceIP: "10.0.0.5", DestinationIP: "203.0.113.66"})
	case models.AnomalyResource:
		src = models.NewResourceRecord(models.ResourceUsage{Timestamp: ts, UserID: subject, ProcessID: "proc-1", SessionID: "sess-1"})
	case models.AnomalyAPI:
		src = models.NewAPIRecord(models.APIUsage{Timestamp: ts, UserID: subject, Endpoint: "/api/login", StatusCode: 401})
	}
	anomalySeq++
	return models.AnomalyEvent{
		ID:          fmt.Sprintf("%s-%s-%d", kind, subject, anomalySeq),
		Timestamp:   ts,
		Type:        kind,
		Description: string(kind) + " anomaly for " + subject,
		RiskScore:   score,
		Severity:    models.SeverityFromScore(score),
		Features:    map[string]float64{},
		SourceData:  src,
	}
}

func actionKinds(actions []models.ResponseAction) []models.ActionKind {
	out := make([]models.ActionKind, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Action)
	}
	return out
}

func findAction(actions []models.ResponseAction, kind models.ActionKind) (models.ResponseAction, bool) {
	for _, a := range actions {
		if a.Action == kind {
			return a, true
		}
	}
	return models.ResponseAction{}, false
}
