package updater

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/oshokin/device-updater/internal/logger"
)

// RequestIDKey is the metadata key carrying the request id.
const RequestIDKey = "x-request-id"

// UnaryServerInterceptor attaches the caller's request id, or a new one, to
// the context logger and logs every call.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := incomingRequestID(ctx)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx = logger.WithKV(ctx, "request_id", requestID, "method", info.FullMethod)
		started := time.Now()

		response, err := handler(ctx, req)

		logger.InfoKV(ctx, "Request handled",
			"code", status.Code(err).String(),
			"duration", time.Since(started).String())

		return response, err
	}
}

// UnaryClientInterceptor sends a new request id with every call.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if outgoingRequestID(ctx) == "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDKey, uuid.NewString())
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	if values := md.Get(RequestIDKey); len(values) > 0 {
		return values[0]
	}

	return ""
}

func outgoingRequestID(ctx context.Context) string {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ""
	}

	if values := md.Get(RequestIDKey); len(values) > 0 {
		return values[0]
	}

	return ""
}
