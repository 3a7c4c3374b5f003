package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-botnet/internal/services"
	"github.com/miradorstack/mirador-botnet/internal/wire"
)

// DetectionServiceName is the fully qualified gRPC service name.
const DetectionServiceName = "mirador.botnet.v1.DetectionService"

// DetectionServer is the server API of the detection service. Messages are
// google.protobuf.Struct values laid out by the wire package.
type DetectionServer interface {
	RunDetection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDetectionServer registers srv with the gRPC registrar.
func RegisterDetectionServer(s grpc.ServiceRegistrar, srv DetectionServer) {
	s.RegisterService(&detectionServiceDesc, srv)
}

var detectionServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectionServiceName,
	HandlerType: (*DetectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunDetection", Handler: unaryHandler("RunDetection", DetectionServer.RunDetection)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", DetectionServer.GetRun)},
		{MethodName: "ListRuns", Handler: unaryHandler("ListRuns", DetectionServer.ListRuns)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler(method string, call func(DetectionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + DetectionServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DetectionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DetectionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DetectionClient calls the detection service over a client connection.
type DetectionClient struct {
	cc grpc.ClientConnInterface
}

// NewDetectionClient wraps an established connection.
func NewDetectionClient(cc grpc.ClientConnInterface) *DetectionClient {
	return &DetectionClient{cc: cc}
}

// RunDetection starts a run and returns its result.
func (c *DetectionClient) RunDetection(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RunDetection", in, opts...)
}

// GetRun fetches a stored run by {"run_id": ...}.
func (c *DetectionClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", in, opts...)
}

// ListRuns lists stored runs, optionally limited by {"limit": n}.
func (c *DetectionClient) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRuns", in, opts...)
}

func (c *DetectionClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+DetectionServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCHandler adapts the detection service to DetectionServer.
type GRPCHandler struct {
	service *services.DetectionService
}

// NewGRPCHandler constructs the gRPC adapter.
func NewGRPCHandler(service *services.DetectionService) *GRPCHandler {
	return &GRPCHandler{service: service}
}

// RunDetection runs the pipeline with optional sources and threshold overrides.
func (h *GRPCHandler) RunDetection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runReq, err := wire.RunRequestFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := h.service.Run(ctx, runReq)
	if err != nil {
		return nil, err
	}
	return encoded(wire.RunResultToStruct(result))
}

// GetRun returns the stored result of {"run_id": ...}.
func (h *GRPCHandler) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	result, err := h.service.Get(ctx, wire.StringField(req, "run_id"))
	if err != nil {
		return nil, err
	}
	return encoded(wire.RunResultToStruct(result))
}

// ListRuns returns recent runs, newest first.
func (h *GRPCHandler) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	infos, err := h.service.List(ctx, wire.IntField(req, "limit", 0))
	if err != nil {
		return nil, err
	}
	return encoded(wire.RunListToStruct(infos))
}

func encoded(msg *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return msg, nil
}
