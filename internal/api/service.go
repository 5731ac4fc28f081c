package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "mirador.sentinel.v1.SentinelEngine"

// SentinelServer is the gRPC surface of the engine. Requests and responses are JSON objects
// carried as google.protobuf.Struct.
type SentinelServer interface {
	IngestTelemetry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSubjectStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBaseline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkFalsePositive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssignIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ContainIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevertAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(SentinelServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SentinelServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SentinelServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var sentinelServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SentinelServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("IngestTelemetry", SentinelServer.IngestTelemetry),
		unaryMethod("ListAnomalies", SentinelServer.ListAnomalies),
		unaryMethod("ListActions", SentinelServer.ListActions),
		unaryMethod("ListIncidents", SentinelServer.ListIncidents),
		unaryMethod("GetIncident", SentinelServer.GetIncident),
		unaryMethod("GetSubjectStatus", SentinelServer.GetSubjectStatus),
		unaryMethod("GetBaseline", SentinelServer.GetBaseline),
		unaryMethod("ResolveIncident", SentinelServer.ResolveIncident),
		unaryMethod("MarkFalsePositive", SentinelServer.MarkFalsePositive),
		unaryMethod("AssignIncident", SentinelServer.AssignIncident),
		unaryMethod("ContainIncident", SentinelServer.ContainIncident),
		unaryMethod("ApproveAction", SentinelServer.ApproveAction),
		unaryMethod("RevertAction", SentinelServer.RevertAction),
		unaryMethod("HealthCheck", SentinelServer.HealthCheck),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/sentinel/v1/sentinel.proto",
}

// RegisterSentinelServer registers srv on s.
func RegisterSentinelServer(s grpc.ServiceRegistrar, srv SentinelServer) {
	s.RegisterService(&sentinelServiceDesc, srv)
}

// SentinelClient invokes SentinelEngine methods by name.
type SentinelClient struct {
	cc grpc.ClientConnInterface
}

// NewSentinelClient wraps a client connection.
func NewSentinelClient(cc grpc.ClientConnInterface) *SentinelClient {
	return &SentinelClient{cc: cc}
}

// Call invokes method with req.
func (c *SentinelClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
