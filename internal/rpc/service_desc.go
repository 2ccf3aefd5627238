package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully-qualified method names of the Solver service.
const (
	ServiceName            = "occupancyadp.v1.Solver"
	SolverSolveFullMethod  = "/" + ServiceName + "/Solve"
	SolverGetRunFullMethod = "/" + ServiceName + "/GetRun"
	SolverListFullMethod   = "/" + ServiceName + "/ListRuns"
)

// SolverServer is the server API of the Solver service. Messages are
// structpb.Struct values holding the JSON shapes in messages.go.
type SolverServer interface {
	Solve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSolverServer attaches srv to a gRPC server.
func RegisterSolverServer(s grpc.ServiceRegistrar, srv SolverServer) {
	s.RegisterService(&SolverServiceDesc, srv)
}

// SolverServiceDesc describes the Solver service for grpc.Server.
var SolverServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Solve", Handler: unaryHandler(SolverSolveFullMethod, SolverServer.Solve)},
		{MethodName: "GetRun", Handler: unaryHandler(SolverGetRunFullMethod, SolverServer.GetRun)},
		{MethodName: "ListRuns", Handler: unaryHandler(SolverListFullMethod, SolverServer.ListRuns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "occupancyadp/v1/solver.proto",
}

type unaryMethod func(SolverServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SolverServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SolverServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
