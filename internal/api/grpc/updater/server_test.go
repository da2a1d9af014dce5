package updater

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/service/guard"
)

// fakeService returns canned engine results.
type fakeService struct {
	initramfsCheck  update.InitramfsCheck
	initramfsUpdate update.InitramfsUpdate
	squashfsCheck   update.SquashfsCheck
	squashfsUpdate  update.SquashfsUpdate
	err             error
	requestIDs      []string
}

func (f *fakeService) remember(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.requestIDs = append(f.requestIDs, md.Get(RequestIDKey)...)
}

func (f *fakeService) CheckInitramfsUpdate(ctx context.Context) (update.InitramfsCheck, error) {
	f.remember(ctx)

	return f.initramfsCheck, f.err
}

func (f *fakeService) UpdateInitramfs(ctx context.Context) (update.InitramfsUpdate, error) {
	f.remember(ctx)

	return f.initramfsUpdate, f.err
}

func (f *fakeService) CheckSquashfsUpdate(ctx context.Context) (update.SquashfsCheck, error) {
	f.remember(ctx)

	return f.squashfsCheck, f.err
}

func (f *fakeService) UpdateSquashfs(ctx context.Context) (update.SquashfsUpdate, error) {
	f.remember(ctx)

	return f.squashfsUpdate, f.err
}

// busyRunner rejects every exclusive run.
type busyRunner struct{}

func (busyRunner) Run(context.Context, func(context.Context) error) error {
	return fmt.Errorf("%w: marker", guard.ErrAlreadyRunning)
}

func startServer(t *testing.T, service Service, runner Runner) *Client {
	t.Helper()

	listener := bufconn.Listen(1 << 20)

	server := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptor()))
	Register(server, NewServer(service, runner))

	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(server.Stop)

	client, err := Dial(context.Background(), "passthrough:///bufnet",
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		})),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// TestTransport_RoundTrip checks that every result shape survives the transport.
func TestTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	service := &fakeService{
		initramfsCheck:  update.InitramfsCheck{Available: true},
		initramfsUpdate: update.InitramfsUpdate{Updated: update.Ptr(false), Error: "exit status 1"},
		squashfsCheck:   update.SquashfsCheck{Error: "no matching artifacts"},
		squashfsUpdate:  update.SquashfsUpdate{NewVersion: update.Ptr("24.02.28b1")},
	}
	client := startServer(t, service, nil)
	ctx := context.Background()

	initramfsCheck, err := client.CheckInitramfsUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, service.initramfsCheck, initramfsCheck)

	initramfsUpdate, err := client.UpdateInitramfs(ctx)
	require.NoError(t, err)
	require.Equal(t, service.initramfsUpdate, initramfsUpdate)

	squashfsCheck, err := client.CheckSquashfsUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, service.squashfsCheck, squashfsCheck)

	squashfsUpdate, err := client.UpdateSquashfs(ctx)
	require.NoError(t, err)
	require.Equal(t, service.squashfsUpdate, squashfsUpdate)

	require.Len(t, service.requestIDs, 4)
	require.NotEqual(t, service.requestIDs[0], service.requestIDs[1])
}

// TestTransport_NullUpdated keeps "updated": null distinct from false.
func TestTransport_NullUpdated(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeService{}, nil)

	message, err := server.UpdateInitramfs(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)

	value, ok := message.GetFields()["updated"]
	require.True(t, ok)
	_, isNull := value.GetKind().(*structpb.Value_NullValue)
	require.True(t, isNull)

	client := startServer(t, &fakeService{}, nil)

	result, err := client.UpdateInitramfs(context.Background())
	require.NoError(t, err)
	require.Nil(t, result.Updated)
	require.Empty(t, result.Error)
}

// TestTransport_ErrorCodes maps engine errors to status codes and back.
func TestTransport_ErrorCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err      error
		code     codes.Code
		restored error
	}{
		{err: update.ErrMissingURL, code: codes.FailedPrecondition, restored: update.ErrConfiguration},
		{err: fmt.Errorf("%w: %q", update.ErrInvalidTag, "latest"), code: codes.InvalidArgument, restored: update.ErrInvalidTag},
		{err: fmt.Errorf("%w: marker", guard.ErrAlreadyRunning), code: codes.Aborted, restored: guard.ErrAlreadyRunning},
	}

	for _, tc := range cases {
		server := NewServer(&fakeService{err: tc.err}, nil)

		_, err := server.CheckSquashfsUpdate(context.Background(), &emptypb.Empty{})
		require.Equal(t, tc.code, status.Code(err))

		client := startServer(t, &fakeService{err: tc.err}, nil)

		_, err = client.CheckSquashfsUpdate(context.Background())
		require.ErrorIs(t, err, tc.restored)
	}
}

// TestServer_UpdatesAreExclusive rejects updates while another run holds the guard.
func TestServer_UpdatesAreExclusive(t *testing.T) {
	t.Parallel()

	service := &fakeService{squashfsUpdate: update.SquashfsUpdate{NewVersion: update.Ptr("x")}}
	client := startServer(t, service, busyRunner{})

	_, err := client.UpdateSquashfs(context.Background())
	require.ErrorIs(t, err, guard.ErrAlreadyRunning)

	_, err = client.CheckSquashfsUpdate(context.Background())
	require.NoError(t, err)
}

func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	client, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, client)
}
