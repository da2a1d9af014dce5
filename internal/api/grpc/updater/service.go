package updater

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "deviceupdater.v1.DeviceUpdater"

// Method names.
const (
	MethodCheckInitramfsUpdate = "CheckInitramfsUpdate"
	MethodUpdateInitramfs      = "UpdateInitramfs"
	MethodCheckSquashfsUpdate  = "CheckSquashfsUpdate"
	MethodUpdateSquashfs       = "UpdateSquashfs"
)

// Handler is the server side of the service.
type Handler interface {
	CheckInitramfsUpdate(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	UpdateInitramfs(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	CheckSquashfsUpdate(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	UpdateSquashfs(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// FullMethod returns the full RPC name of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: MethodCheckInitramfsUpdate,
			Handler:    unaryHandler(MethodCheckInitramfsUpdate, Handler.CheckInitramfsUpdate),
		},
		{
			MethodName: MethodUpdateInitramfs,
			Handler:    unaryHandler(MethodUpdateInitramfs, Handler.UpdateInitramfs),
		},
		{
			MethodName: MethodCheckSquashfsUpdate,
			Handler:    unaryHandler(MethodCheckSquashfsUpdate, Handler.CheckSquashfsUpdate),
		},
		{
			MethodName: MethodUpdateSquashfs,
			Handler:    unaryHandler(MethodUpdateSquashfs, Handler.UpdateSquashfs),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "deviceupdater/v1/updater.proto",
}

// Register adds the handler to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, handler Handler) {
	registrar.RegisterService(&ServiceDesc, handler)
}

type unaryMethod func(h Handler, ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}

		handler, _ := srv.(Handler)

		if interceptor == nil {
			return call(handler, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			request, _ := req.(*emptypb.Empty)

			return call(handler, ctx, request)
		})
	}
}
