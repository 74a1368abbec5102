// Package timersv1 describes the mirador.timers.v1.TimerReconciler gRPC
// service. Payloads are google.protobuf.Struct messages so the service needs
// no generated message types.
package timersv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "mirador.timers.v1.TimerReconciler"

	RunCycleMethod    = "/" + ServiceName + "/RunCycle"
	ListCyclesMethod  = "/" + ServiceName + "/ListCycles"
	HealthCheckMethod = "/" + ServiceName + "/HealthCheck"
)

// TimerReconcilerServer is the server API for the TimerReconciler service.
type TimerReconcilerServer interface {
	RunCycle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCycles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedTimerReconcilerServer can be embedded for forward compatibility.
type UnimplementedTimerReconcilerServer struct{}

func (UnimplementedTimerReconcilerServer) RunCycle(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method RunCycle not implemented")
}

func (UnimplementedTimerReconcilerServer) ListCycles(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListCycles not implemented")
}

func (UnimplementedTimerReconcilerServer) HealthCheck(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method HealthCheck not implemented")
}

// RegisterTimerReconcilerServer attaches srv to the registrar.
func RegisterTimerReconcilerServer(s grpc.ServiceRegistrar, srv TimerReconcilerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func runCycleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimerReconcilerServer).RunCycle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunCycleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TimerReconcilerServer).RunCycle(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listCyclesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimerReconcilerServer).ListCycles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListCyclesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TimerReconcilerServer).ListCycles(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimerReconcilerServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthCheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TimerReconcilerServer).HealthCheck(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the TimerReconciler service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimerReconcilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunCycle", Handler: runCycleHandler},
		{MethodName: "ListCycles", Handler: listCyclesHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/timers/v1/timers.proto",
}

// TimerReconcilerClient is the client API for the TimerReconciler service.
type TimerReconcilerClient interface {
	RunCycle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListCycles(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	HealthCheck(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type timerReconcilerClient struct {
	cc grpc.ClientConnInterface
}

// NewTimerReconcilerClient wraps a client connection.
func NewTimerReconcilerClient(cc grpc.ClientConnInterface) TimerReconcilerClient {
	return &timerReconcilerClient{cc: cc}
}

func (c *timerReconcilerClient) RunCycle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RunCycleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *timerReconcilerClient) ListCycles(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListCyclesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *timerReconcilerClient) HealthCheck(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthCheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
