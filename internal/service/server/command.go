package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	api "github.com/oshokin/device-updater/internal/api/grpc/updater"
	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/metrics"
	"github.com/oshokin/device-updater/internal/repository/buildinfo"
	"github.com/oshokin/device-updater/internal/service/guard"
	"github.com/oshokin/device-updater/internal/service/updater"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

// Options controls the device-updater daemon.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the configured gRPC listen address.
	ListenAddress string
	// LogLevel overrides the configured level when set.
	LogLevel string
}

// Run starts the gRPC server and blocks until context is canceled or server stops.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "device-updater-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	level := settings.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	if err = logger.Configure(level, settings.LogFile); err != nil {
		return err
	}

	listenAddress := settings.ListenAddress
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	d, err := newDaemon(settings)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	logger.InfoKV(ctx, "Device updater listening",
		"listen_address", listenAddress,
		"strategy", d.engine.Strategy().String(),
		"build_info", settings.BuildInfoPath)

	return d.serve(ctx, lis)
}

// daemon owns one engine and serves it until shutdown.
type daemon struct {
	settings   *config.Config
	cache      *buildinfo.Cache
	collector  *metrics.Collector
	engine     *updater.Engine
	grpcServer *grpc.Server
}

func newDaemon(settings *config.Config, opts ...updater.Option) (*daemon, error) {
	cache := buildinfo.NewCache(settings.BuildInfoPath)
	collector := metrics.New()

	engine, err := updater.New(settings,
		append([]updater.Option{updater.WithBuildInfo(cache), updater.WithMetrics(collector)}, opts...)...)
	if err != nil {
		return nil, err
	}

	marker := guard.New(settings.MarkerPath, guard.WithLifetime(settings.MarkerLifetime))

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(api.UnaryServerInterceptor()))
	api.Register(grpcServer, api.NewServer(engine, marker))

	return &daemon{
		settings:   settings,
		cache:      cache,
		collector:  collector,
		engine:     engine,
		grpcServer: grpcServer,
	}, nil
}

// serve blocks until ctx is done and the gRPC server has stopped.
func (d *daemon) serve(ctx context.Context, lis net.Listener) error {
	go func() {
		if err := d.cache.Watch(ctx); err != nil {
			logger.WarnKV(ctx, "Build info is reloaded only after updates", "error", err)
		}
	}()

	metricsServer := d.serveMetrics(ctx)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		d.grpcServer.GracefulStop()

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
			defer cancel()

			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.WarnKV(ctx, "Unable to stop metrics server", "error", err)
			}
		}

		close(done)
	}()

	if err := d.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// serveMetrics exposes the collector when a metrics address is configured.
func (d *daemon) serveMetrics(ctx context.Context) *http.Server {
	if d.settings.MetricsAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())

	server := &http.Server{
		Addr:              d.settings.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		logger.InfoKV(ctx, "Metrics listening", "address", d.settings.MetricsAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "Metrics server failed", "error", err)
		}
	}()

	return server
}
