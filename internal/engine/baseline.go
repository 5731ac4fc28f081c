package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	minBaselineSamples        = 5
	defaultBaselineWindowDays = 7
	baselineTopN              = 3
)

// DefaultBaseline returns the conservative profile used when a subject has too little history.
func DefaultBaseline(subjectID string, now time.Time) models.BaselineProfile {
	return models.BaselineProfile{
		SubjectID:            subjectID,
		AvgLoginHour:         12,
		CommonLocations:      []string{},
		TypicalDevices:       []string{},
		NormalActionRate:     10,
		UsualSessionDuration: 30 * time.Minute,
		BaselineUpdatedAt:    now,
	}
}

// BaselineLearner maintains per-subject behaviour profiles. Profiles live in memory and are
// written through to the cache provider so replicas share them.
type BaselineLearner struct {
	mu         sync.RWMutex
	profiles   map[string]models.BaselineProfile
	windowDays int

	cache  cache.Provider
	ttl    time.Duration
	clock  func() time.Time
	logger *slog.Logger
}

// NewBaselineLearner constructs a learner. A nil provider disables cache write-through.
func NewBaselineLearner(windowDays int, provider cache.Provider, ttl time.Duration, clock func() time.Time, logger *slog.Logger) *BaselineLearner {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if clock == nil {
		clock = utcNow
	}
	if windowDays <= 0 {
		windowDays = defaultBaselineWindowDays
	}
	return &BaselineLearner{
		profiles:   make(map[string]models.BaselineProfile),
		windowDays: windowDays,
		cache:      provider,
		ttl:        ttl,
		clock:      clock,
		logger:     logger,
	}
}

// SetWindowDays changes the look-back used by subsequent updates.
func (l *BaselineLearner) SetWindowDays(days int) {
	if days <= 0 {
		days = defaultBaselineWindowDays
	}
	l.mu.Lock()
	l.windowDays = days
	l.mu.Unlock()
}

// UpdateBaseline rebuilds and stores the profile for subjectID from history. Records for other
// subjects or outside the window are ignored; fewer than five qualifying records yield
// DefaultBaseline.
func (l *BaselineLearner) UpdateBaseline(subjectID string, history []models.UserBehavior) models.BaselineProfile {
	now := l.clock()
	l.mu.RLock()
	start := now.Add(-time.Duration(l.windowDays) * 24 * time.Hour)
	l.mu.RUnlock()

	samples := make([]models.UserBehavior, 0, len(history))
	for _, rec := range history {
		if rec.UserID != subjectID || rec.LoginTime.Before(start) {
			continue
		}
		samples = append(samples, rec)
	}

	profile := DefaultBaseline(subjectID, now)
	if len(samples) >= minBaselineSamples {
		hours, rate := 0.0, 0.0
		locations := make([]string, 0, len(samples))
		devices := make([]string, 0, len(samples))
		for _, rec := range samples {
			hours += float64(rec.LoginTime.Hour())
			rate += rec.ActionFrequency
			locations = append(locations, rec.Location)
			devices = append(devices, rec.Device)
		}
		n := float64(len(samples))
		profile.AvgLoginHour = hours / n
		profile.NormalActionRate = rate / n
		profile.CommonLocations = topByFrequency(locations, baselineTopN)
		profile.TypicalDevices = topByFrequency(devices, baselineTopN)
		profile.SampleSize = len(samples)
	}

	l.mu.Lock()
	l.profiles[subjectID] = profile
	l.mu.Unlock()
	return profile
}

// Refresh rebuilds the profile of every subject present in history and writes them through
// to the cache. Cache failures are logged, never returned.
func (l *BaselineLearner) Refresh(ctx context.Context, history []models.UserBehavior) int {
	subjects := make([]string, 0)
	seen := make(map[string]struct{})
	for _, rec := range history {
		if rec.UserID == "" {
			continue
		}
		if _, ok := seen[rec.UserID]; ok {
			continue
		}
		seen[rec.UserID] = struct{}{}
		subjects = append(subjects, rec.UserID)
	}

	for _, subject := range subjects {
		profile := l.UpdateBaseline(subject, history)
		l.persist(ctx, profile)
	}
	if len(subjects) > 0 {
		l.logger.Debug("baselines refreshed", slog.Int("subjects", len(subjects)))
	}
	return len(subjects)
}

// Baseline returns the profile for subjectID, consulting the cache when it is not in memory.
func (l *BaselineLearner) Baseline(ctx context.Context, subjectID string) (models.BaselineProfile, bool) {
	l.mu.RLock()
	profile, ok := l.profiles[subjectID]
	l.mu.RUnlock()
	if ok {
		return profile, true
	}

	payload, err := l.cache.Get(ctx, baselineKey(subjectID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			l.logger.Warn("baseline cache read failed", slog.String("subject", subjectID), slog.Any("error", err))
		}
		return models.BaselineProfile{}, false
	}
	if err := json.Unmarshal(payload, &profile); err != nil {
		l.logger.Warn("baseline cache payload invalid", slog.String("subject", subjectID), slog.Any("error", err))
		return models.BaselineProfile{}, false
	}

	l.mu.Lock()
	if _, exists := l.profiles[subjectID]; !exists {
		l.profiles[subjectID] = profile
	}
	l.mu.Unlock()
	return profile, true
}

// Subjects returns the subjects with an in-memory profile.
func (l *BaselineLearner) Subjects() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.profiles))
	for id := range l.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *BaselineLearner) persist(ctx context.Context, profile models.BaselineProfile) {
	payload, err := json.Marshal(profile)
	if err != nil {
		l.logger.Warn("baseline encode failed", slog.String("subject", profile.SubjectID), slog.Any("error", err))
		return
	}
	if err := l.cache.Set(ctx, baselineKey(profile.SubjectID), payload, l.ttl); err != nil {
		l.logger.Warn("baseline cache write failed", slog.String("subject", profile.SubjectID), slog.Any("error", err))
	}
}

func baselineKey(subjectID string) string {
	return "baseline:" + subjectID
}

// topByFrequency returns up to n distinct values ordered by count, ties by first appearance.
func topByFrequency(values []string, n int) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func utcNow() time.Time {
	return time.Now().UTC()
}
