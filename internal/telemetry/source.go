package telemetry

import (
	"context"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Sink receives records produced by a Source.
type Sink func(ctx context.Context, rec models.TelemetryRecord)

// Source produces telemetry until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}
