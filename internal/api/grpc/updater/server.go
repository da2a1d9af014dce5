package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/service/guard"
)

// Service abstracts the engine operations the transport depends on.
type Service interface {
	CheckInitramfsUpdate(ctx context.Context) (update.InitramfsCheck, error)
	UpdateInitramfs(ctx context.Context) (update.InitramfsUpdate, error)
	CheckSquashfsUpdate(ctx context.Context) (update.SquashfsCheck, error)
	UpdateSquashfs(ctx context.Context) (update.SquashfsUpdate, error)
}

// Runner runs a function exclusively against other update processes.
type Runner interface {
	Run(ctx context.Context, fn func(context.Context) error) error
}

// Server implements the DeviceUpdater gRPC API. Calls are serialized since
// the engine is not safe for concurrent use.
type Server struct {
	// service performs the update operations.
	service Service
	// runner guards update operations against concurrent command line runs.
	runner Runner
	// mu serializes calls into service.
	mu sync.Mutex
}

// NewServer wires the service into a gRPC handler. runner may be nil.
func NewServer(service Service, runner Runner) *Server {
	return &Server{
		service: service,
		runner:  runner,
	}
}

// CheckInitramfsUpdate implements Handler.
func (s *Server) CheckInitramfsUpdate(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.service.CheckInitramfsUpdate(ctx)

	return respond(ctx, result, err)
}

// UpdateInitramfs implements Handler.
func (s *Server) UpdateInitramfs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result update.InitramfsUpdate

	err := s.exclusive(ctx, func(ctx context.Context) (err error) {
		result, err = s.service.UpdateInitramfs(ctx)

		return err
	})

	return respond(ctx, result, err)
}

// CheckSquashfsUpdate implements Handler.
func (s *Server) CheckSquashfsUpdate(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.service.CheckSquashfsUpdate(ctx)

	return respond(ctx, result, err)
}

// UpdateSquashfs implements Handler.
func (s *Server) UpdateSquashfs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result update.SquashfsUpdate

	err := s.exclusive(ctx, func(ctx context.Context) (err error) {
		result, err = s.service.UpdateSquashfs(ctx)

		return err
	})

	return respond(ctx, result, err)
}

func (s *Server) exclusive(ctx context.Context, fn func(context.Context) error) error {
	if s.runner == nil {
		return fn(ctx)
	}

	return s.runner.Run(ctx, fn)
}

func respond(ctx context.Context, result any, err error) (*structpb.Struct, error) {
	if err != nil {
		logger.ErrorKV(ctx, "Request failed", "error", err)

		return nil, toStatus(err)
	}

	message, err := toStruct(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return message, nil
}

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, update.ErrConfiguration):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, update.ErrInvalidTag):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, guard.ErrAlreadyRunning):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus restores the error categories of toStatus on the client side.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", update.ErrConfiguration, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", update.ErrInvalidTag, st.Message())
	case codes.Aborted:
		return fmt.Errorf("%w: %s", guard.ErrAlreadyRunning, st.Message())
	default:
		return err
	}
}
