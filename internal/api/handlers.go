package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/telemetry"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Backend is the engine facade served by both transports.
type Backend interface {
	IngestTelemetry(ctx context.Context, rec models.TelemetryRecord) (models.IngestResult, error)
	RecentAnomalies(limit int) []models.AnomalyEvent
	ActionHistory(limit int) []models.ResponseAction
	ListIncidents(activeOnly bool) []models.IncidentRecord
	GetIncident(id string) (models.IncidentRecord, error)
	SubjectStatus(id string) (models.SubjectStatus, error)
	GetBaseline(ctx context.Context, id string) (models.BaselineProfile, error)
	ResolveIncident(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error)
	MarkFalsePositive(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error)
	AssignIncident(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error)
	ContainIncident(ctx context.Context, cmd models.IncidentCommand) (models.IncidentRecord, error)
	ApproveAction(ctx context.Context, cmd models.ActionCommand) (models.ResponseAction, error)
	RevertAction(ctx context.Context, cmd models.ActionCommand) (models.ResponseAction, error)
	HealthCheck(ctx context.Context) models.HealthReport
}

type listRequest struct {
	Limit      int  `json:"limit"`
	ActiveOnly bool `json:"activeOnly"`
}

type subjectRequest struct {
	IncidentID string `json:"incidentId"`
	SubjectID  string `json:"subjectId"`
}

// GRPCHandler adapts a Backend to SentinelServer.
type GRPCHandler struct {
	backend Backend
	logger  *slog.Logger
}

// NewGRPCHandler constructs the gRPC adapter.
func NewGRPCHandler(backend Backend, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{backend: backend, logger: logger}
}

// IngestTelemetry accepts a telemetry record in its JSON form.
func (h *GRPCHandler) IngestTelemetry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data, err := structJSON(req)
	if err != nil {
		return nil, grpcError(err)
	}
	rec, err := telemetry.DecodeRecord(data)
	if err != nil {
		return nil, grpcError(utils.NewAppError("ingest", "decode record", fmt.Errorf("%w: %v", utils.ErrInvalidArgument, err)))
	}
	result, err := h.backend.IngestTelemetry(ctx, rec)
	if err != nil {
		h.logger.Warn("grpc ingest failed", slog.Any("error", err))
		return nil, grpcError(err)
	}
	return respond(result)
}

// ListAnomalies returns {"anomalies": [...]} newest first.
func (h *GRPCHandler) ListAnomalies(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, grpcError(err)
	}
	return respond(map[string]any{"anomalies": h.backend.RecentAnomalies(in.Limit)})
}

// ListActions returns {"actions": [...]} newest first.
func (h *GRPCHandler) ListActions(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, grpcError(err)
	}
	return respond(map[string]any{"actions": h.backend.ActionHistory(in.Limit)})
}

// ListIncidents returns {"incidents": [...]}.
func (h *GRPCHandler) ListIncidents(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, grpcError(err)
	}
	return respond(map[string]any{"incidents": h.backend.ListIncidents(in.ActiveOnly)})
}

// GetIncident returns one incident.
func (h *GRPCHandler) GetIncident(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in subjectRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, grpcError(err)
	}
	incident, err := h.backend.GetIncident(in.IncidentID)
	if err != nil {
		return nil, grpcError(err)
	}
	return respond(incident)
}

// GetSubjectStatus answers the enforcement checks for a subject.
func (h *GRPCHandler) GetSubjectStatus(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in subjectRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, grpcError(err)
	}
	st, err := h.backend.SubjectStatus(in.SubjectID)
	if err != nil {
		return nil, grpcError(err)
	}
	return respond(st)
}

// GetBaseline returns a learned profile.
func (h *GRPCHandler) GetBaseline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in subjectRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, grpcError(err)
	}
	profile, err := h.backend.GetBaseline(ctx, in.SubjectID)
	if err != nil {
		return nil, grpcError(err)
	}
	return respond(profile)
}

// ResolveIncident closes an incident as resolved.
func (h *GRPCHandler) ResolveIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.incidentCommand(ctx, req, h.backend.ResolveIncident)
}

// MarkFalsePositive closes an incident as a false positive.
func (h *GRPCHandler) MarkFalsePositive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.incidentCommand(ctx, req, h.backend.MarkFalsePositive)
}

// AssignIncident assigns an incident to an analyst.
func (h *GRPCHandler) AssignIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.incidentCommand(ctx, req, h.backend.AssignIncident)
}

// ContainIncident marks an incident contained.
func (h *GRPCHandler) ContainIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.incidentCommand(ctx, req, h.backend.ContainIncident)
}

func (h *GRPCHandler) incidentCommand(ctx context.Context, req *structpb.Struct, apply func(context.Context, models.IncidentCommand) (models.IncidentRecord, error)) (*structpb.Struct, error) {
	var cmd models.IncidentCommand
	if err := decodeStruct(req, &cmd); err != nil {
		return nil, grpcError(err)
	}
	incident, err := apply(ctx, cmd)
	if err != nil {
		return nil, grpcError(err)
	}
	return respond(incident)
}

// ApproveAction executes a pending action.
func (h *GRPCHandler) ApproveAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.actionCommand(ctx, req, h.backend.ApproveAction)
}

// RevertAction reverts an executed action.
func (h *GRPCHandler) RevertAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return h.actionCommand(ctx, req, h.backend.RevertAction)
}

func (h *GRPCHandler) actionCommand(ctx context.Context, req *structpb.Struct, apply func(context.Context, models.ActionCommand) (models.ResponseAction, error)) (*structpb.Struct, error) {
	var cmd models.ActionCommand
	if err := decodeStruct(req, &cmd); err != nil {
		return nil, grpcError(err)
	}
	action, err := apply(ctx, cmd)
	if err != nil {
		return nil, grpcError(err)
	}
	return respond(action)
}

// HealthCheck reports engine state.
func (h *GRPCHandler) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(h.backend.HealthCheck(ctx))
}

// structJSON renders req as JSON. A nil request is an empty object.
func structJSON(req *structpb.Struct) ([]byte, error) {
	if req == nil {
		return []byte("{}"), nil
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return nil, utils.NewAppError("decode", "marshal request", fmt.Errorf("%w: %v", utils.ErrInvalidArgument, err))
	}
	return data, nil
}

// decodeStruct unmarshals req into out through its JSON form.
func decodeStruct(req *structpb.Struct, out any) error {
	data, err := structJSON(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewAppError("decode", "invalid request", fmt.Errorf("%w: %v", utils.ErrInvalidArgument, err))
	}
	return nil
}

// EncodeStruct converts a JSON-object-shaped value into a Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

// DecodeStruct converts a Struct back into a Go value.
func DecodeStruct(s *structpb.Struct, out any) error {
	return decodeStruct(s, out)
}

func respond(v any) (*structpb.Struct, error) {
	out, err := EncodeStruct(v)
	if err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}
