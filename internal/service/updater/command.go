package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	api "github.com/oshokin/device-updater/internal/api/grpc/updater"
	"github.com/oshokin/device-updater/internal/config"
	"github.com/oshokin/device-updater/internal/fetcher"
	"github.com/oshokin/device-updater/internal/logger"
	"github.com/oshokin/device-updater/internal/service/guard"
)

// Actions.
const (
	ActionCheck  = "check"
	ActionUpdate = "update"
)

// Components.
const (
	ComponentInitramfs = "initramfs"
	ComponentSquashfs  = "squashfs"
)

const progressThrottle = 100 * time.Millisecond

var (
	errUnknownAction    = errors.New("unknown action")
	errUnknownComponent = errors.New("unknown component")
)

// Options are inputs accepted by the command line entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// LogLevel overrides the configured level when set.
	LogLevel string
	// Action is check or update.
	Action string
	// Component is initramfs or squashfs.
	Component string
	// ServerAddress sends the request to a running daemon instead of
	// executing it in this process.
	ServerAddress string
	// Progress draws a download progress bar on stderr.
	Progress bool
	// Output receives the JSON result, stdout when nil.
	Output io.Writer
}

// Run executes one operation and prints its result as JSON.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "device-updater")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	if err = logger.Configure(level, cfg.LogFile, logger.WithStderr()); err != nil {
		return err
	}

	service, closeService, err := openService(ctx, cfg, opts)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closeService(); closeErr != nil {
			logger.WarnKV(ctx, "Unable to close service", "error", closeErr)
		}
	}()

	exclusive := opts.ServerAddress == "" && opts.Action == ActionUpdate

	var result any

	operation := func(ctx context.Context) (err error) {
		result, err = dispatch(ctx, service, opts.Action, opts.Component)

		return err
	}

	if exclusive {
		err = guard.New(cfg.MarkerPath, guard.WithLifetime(cfg.MarkerLifetime)).Run(ctx, operation)
	} else {
		err = operation(ctx)
	}

	if err != nil {
		logger.ErrorKV(ctx, "Operation failed", "action", opts.Action, "component", opts.Component, "error", err)

		return err
	}

	return printResult(opts.Output, result)
}

// openService returns the in-process engine or a daemon client.
//
//nolint:ireturn // Either implementation serves the same requests.
func openService(ctx context.Context, cfg *config.Config, opts *Options) (api.Service, func() error, error) {
	if opts.ServerAddress != "" {
		client, err := api.Dial(ctx, opts.ServerAddress)
		if err != nil {
			return nil, nil, err
		}

		return client, client.Close, nil
	}

	var engineOptions []Option
	if opts.Progress {
		engineOptions = append(engineOptions, WithProgress(newProgressBar(os.Stderr)))
	}

	engine, err := New(cfg, engineOptions...)
	if err != nil {
		return nil, nil, err
	}

	return engine, func() error { return nil }, nil
}

func dispatch(ctx context.Context, service api.Service, action, component string) (any, error) {
	switch action {
	case ActionCheck:
		switch component {
		case ComponentInitramfs:
			return service.CheckInitramfsUpdate(ctx)
		case ComponentSquashfs:
			return service.CheckSquashfsUpdate(ctx)
		}
	case ActionUpdate:
		switch component {
		case ComponentInitramfs:
			return service.UpdateInitramfs(ctx)
		case ComponentSquashfs:
			return service.UpdateSquashfs(ctx)
		}
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownAction, action)
	}

	return nil, fmt.Errorf("%w: %s", errUnknownComponent, component)
}

func printResult(output io.Writer, result any) error {
	if output == nil {
		output = os.Stdout
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("print result: %w", err)
	}

	return nil
}

// newProgressBar draws download progress once the first chunk arrives.
func newProgressBar(output io.Writer) fetcher.ProgressFunc {
	var bar *progressbar.ProgressBar

	return func(written, total int64) {
		if bar == nil {
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetWriter(output),
				progressbar.OptionSetDescription("downloading"),
				progressbar.OptionShowBytes(true),
				progressbar.OptionThrottle(progressThrottle),
				progressbar.OptionClearOnFinish(),
			)
		}

		_ = bar.Set64(written)
	}
}
