package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

var (
	syntheticUsers     = []string{"alice", "bob", "carol", "dave", "erin"}
	syntheticLocations = []string{"Berlin", "London", "New York"}
	syntheticDevices   = []string{"laptop-1", "desktop-2", "phone-3"}
	syntheticEndpoints = []string{"/api/login", "/api/cases", "/api/evidence", "/api/export"}
	roguePool          = []string{"203.0.113.66", "198.51.100.23"}
)

// Generator synthesises a mix of benign and hostile telemetry from a seeded source, one
// batch of each kind per sampling interval.
type Generator struct {
	rng      *rand.Rand
	interval atomic.Int64
	clock    func() time.Time
	logger   *slog.Logger
	seq      int
}

// NewGenerator returns a generator whose output is fully determined by seed and clock.
func NewGenerator(seed uint64, interval time.Duration, clock func() time.Time, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	g := &Generator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		clock:  clock,
		logger: logger,
	}
	g.SetInterval(interval)
	return g
}

// SetInterval changes the sampling interval; it takes effect on the next tick.
func (g *Generator) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	g.interval.Store(int64(interval))
}

// Run emits a batch on every tick until ctx is done.
func (g *Generator) Run(ctx context.Context, sink Sink) error {
	g.logger.Info("synthetic telemetry started", slog.Duration("interval", time.Duration(g.interval.Load())))
	timer := time.NewTimer(time.Duration(g.interval.Load()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			for _, rec := range g.Batch() {
				sink(ctx, rec)
			}
			timer.Reset(time.Duration(g.interval.Load()))
		}
	}
}

// Batch returns one record of each kind. Roughly one batch in ten carries hostile values.
// Not safe for concurrent use.
func (g *Generator) Batch() []models.TelemetryRecord {
	now := g.clock()
	g.seq++
	hostile := g.rng.IntN(10) == 0
	user := syntheticUsers[g.rng.IntN(len(syntheticUsers))]
	session := fmt.Sprintf("sess-%s-%d", user, g.seq%7)

	login := models.UserBehavior{
		UserID:          user,
		LoginTime:       now,
		Location:        syntheticLocations[g.rng.IntN(len(syntheticLocations))],
		Device:          syntheticDevices[g.rng.IntN(len(syntheticDevices))],
		ActionFrequency: 5 + g.rng.Float64()*10,
		IPAddress:       fmt.Sprintf("10.0.%d.%d", g.rng.IntN(4), 10+g.rng.IntN(200)),
		UserAgent:       "Mozilla/5.0",
	}
	flow := models.NetworkActivity{
		Timestamp:     now,
		SourceIP:      login.IPAddress,
		DestinationIP: fmt.Sprintf("10.1.%d.%d", g.rng.IntN(4), 1+g.rng.IntN(250)),
		Port:          443,
		Protocol:      "tcp",
		TrafficVolume: 40000 + g.rng.Float64()*20000,
		IsOutbound:    true,
		UserID:        user,
		SessionID:     session,
	}
	usage := models.ResourceUsage{
		Timestamp: now,
		ProcessID: fmt.Sprintf("proc-%d", 1000+g.rng.IntN(50)),
		SessionID: session,
		UserID:    user,
		CPUUsage:  10 + g.rng.Float64()*30,
		RAMUsage:  512 + g.rng.Float64()*1024,
		DiskUsage: g.rng.Float64() * 100,
		NetworkIO: g.rng.Float64() * 20000,
	}
	call := models.APIUsage{
		Timestamp:    now,
		Endpoint:     syntheticEndpoints[g.rng.IntN(len(syntheticEndpoints))],
		Method:       "GET",
		ResponseTime: 50 + g.rng.Float64()*200,
		StatusCode:   200,
		UserID:       user,
		SessionID:    session,
	}

	if hostile {
		login.Location = "Unknown"
		login.Device = "unrecognised-device"
		login.ActionFrequency = 80 + g.rng.Float64()*20
		flow.DestinationIP = roguePool[g.rng.IntN(len(roguePool))]
		flow.Port = 4444
		flow.TrafficVolume = 150000 + g.rng.Float64()*50000
		usage.CPUUsage = 95 + g.rng.Float64()*5
		usage.RAMUsage = 7800 + g.rng.Float64()*392
		usage.NetworkIO = 90000 + g.rng.Float64()*10000
		call.Endpoint = "/api/login"
		call.Method = "POST"
		call.StatusCode = 401
		call.ErrorCount = 5 + g.rng.IntN(10)
		call.ResponseTime = 2000 + g.rng.Float64()*3000
	}

	return []models.TelemetryRecord{
		models.NewUserBehaviorRecord(login),
		models.NewNetworkRecord(flow),
		models.NewResourceRecord(usage),
		models.NewAPIRecord(call),
	}
}
