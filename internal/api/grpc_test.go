package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func startTestServer(t *testing.T, backend Backend) (*SentinelClient, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, NewGRPCHandler(backend, nil))
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSentinelClient(conn), conn
}

func mustStruct(t *testing.T, v any) *structpb.Struct {
	t.Helper()
	s, err := EncodeStruct(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return s
}

func TestGRPCIngestTelemetry(t *testing.T) {
	backend := newFakeBackend()
	client, _ := startTestServer(t, backend)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := models.NewAPIRecord(models.APIUsage{
		Timestamp:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Endpoint:   "/api/login",
		Method:     "POST",
		StatusCode: 401,
		UserID:     "alice",
	})
	resp, err := client.Call(ctx, "IngestTelemetry", mustStruct(t, rec))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var result models.IngestResult
	if err := DecodeStruct(resp, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Accepted || len(result.Anomalies) != 1 || result.Anomalies[0].ID != "a-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(backend.ingested) != 1 || backend.ingested[0].API.UserID != "alice" {
		t.Fatalf("expected record forwarded, got %+v", backend.ingested)
	}

	_, err = client.Call(ctx, "IngestTelemetry", mustStruct(t, map[string]any{"kind": "resource"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestGRPCQueriesAndErrors(t *testing.T) {
	backend := newFakeBackend()
	backend.approveErr = utils.NewAppError("approve", "act-1", engine.ErrActionNotPending)
	client, conn := startTestServer(t, backend)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, "ListActions", mustStruct(t, map[string]any{"limit": 3}))
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	var listed struct {
		Actions []models.ResponseAction `json:"actions"`
	}
	if err := DecodeStruct(resp, &listed); err != nil || len(listed.Actions) != 1 || backend.lastLimit != 3 {
		t.Fatalf("unexpected actions %+v (limit %d, err %v)", listed, backend.lastLimit, err)
	}

	if _, err := client.Call(ctx, "GetIncident", mustStruct(t, map[string]any{"incidentId": "missing"})); status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.Call(ctx, "ApproveAction", mustStruct(t, models.ActionCommand{ActionID: "act-1"})); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}

	resp, err = client.Call(ctx, "AssignIncident", mustStruct(t, models.IncidentCommand{IncidentID: "inc-1", Analyst: "sam"}))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	var incident models.IncidentRecord
	if err := DecodeStruct(resp, &incident); err != nil || incident.AssignedTo != "sam" {
		t.Fatalf("unexpected incident %+v", incident)
	}

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected serving health, got %v %v", health, err)
	}
}
