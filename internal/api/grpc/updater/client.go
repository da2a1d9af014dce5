package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/device-updater/internal/domain/update"
)

// DefaultCallTimeout covers a full root filesystem download and staging.
const DefaultCallTimeout = time.Hour

// errAddressRequired is returned when the daemon address is missing.
var errAddressRequired = errors.New("address must be provided")

// Client calls a running daemon.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// callTimeout bounds every call.
	callTimeout time.Duration
	// dialOptions are appended to the default dial options.
	dialOptions []grpc.DialOption
}

// Option configures the client.
type Option func(*Client)

// WithCallTimeout sets the timeout of every call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithDialOptions adds gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// Dial connects to the daemon at address. The daemon listens on loopback,
// so the connection is not encrypted.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(UnaryClientInterceptor()),
	}, client.dialOptions...)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial device updater: %w", err)
	}

	client.conn = conn

	return client, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// CheckInitramfsUpdate calls the daemon.
func (c *Client) CheckInitramfsUpdate(ctx context.Context) (update.InitramfsCheck, error) {
	var result update.InitramfsCheck

	err := c.call(ctx, MethodCheckInitramfsUpdate, &result)

	return result, err
}

// UpdateInitramfs calls the daemon.
func (c *Client) UpdateInitramfs(ctx context.Context) (update.InitramfsUpdate, error) {
	var result update.InitramfsUpdate

	err := c.call(ctx, MethodUpdateInitramfs, &result)

	return result, err
}

// CheckSquashfsUpdate calls the daemon.
func (c *Client) CheckSquashfsUpdate(ctx context.Context) (update.SquashfsCheck, error) {
	var result update.SquashfsCheck

	err := c.call(ctx, MethodCheckSquashfsUpdate, &result)

	return result, err
}

// UpdateSquashfs calls the daemon.
func (c *Client) UpdateSquashfs(ctx context.Context) (update.SquashfsUpdate, error) {
	var result update.SquashfsUpdate

	err := c.call(ctx, MethodUpdateSquashfs, &result)

	return result, err
}

func (c *Client) call(ctx context.Context, method string, result any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, FullMethod(method), new(emptypb.Empty), response); err != nil {
		return fmt.Errorf("%s: %w", method, fromStatus(err))
	}

	return fromStruct(response, result)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
