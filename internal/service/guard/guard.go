package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/device-updater/internal/logger"
)

// DefaultLifetime is the age after which a marker is considered stale.
const DefaultLifetime = time.Hour

const markerMode = 0o600

// ErrAlreadyRunning is returned when another run holds a fresh marker.
var ErrAlreadyRunning = errors.New("an update is already running")

// ProcessFinder looks up a process by id; it returns nil when there is none.
type ProcessFinder func(pid int) (ps.Process, error)

// Guard owns the run marker.
type Guard struct {
	path     string
	lifetime time.Duration
	find     ProcessFinder
	kill     func(pid int) error
}

// Option configures the guard.
type Option func(*Guard)

// WithLifetime changes the stale marker age.
func WithLifetime(lifetime time.Duration) Option {
	return func(g *Guard) {
		if lifetime > 0 {
			g.lifetime = lifetime
		}
	}
}

// WithProcessFinder replaces the process table lookup.
func WithProcessFinder(find ProcessFinder) Option {
	return func(g *Guard) {
		if find != nil {
			g.find = find
		}
	}
}

// WithKiller replaces the process termination.
func WithKiller(kill func(pid int) error) Option {
	return func(g *Guard) {
		if kill != nil {
			g.kill = kill
		}
	}
}

// New creates a guard for the marker at path.
func New(path string, opts ...Option) *Guard {
	g := &Guard{
		path:     filepath.Clean(path),
		lifetime: DefaultLifetime,
		find:     ps.FindProcess,
		kill:     killProcess,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// IsRunning reports whether a fresh marker exists. A stale marker is
// recovered: its process is terminated and the marker removed.
func (g *Guard) IsRunning(ctx context.Context) bool {
	logger.Debug(ctx, "Checking for the presence of an update marker")

	info, err := os.Stat(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.WarnKV(ctx, "Unable to read update marker", "path", g.path, "error", err)

		return false
	}

	if time.Since(info.ModTime()) <= g.lifetime {
		return true
	}

	logger.InfoKV(ctx, "The update marker is too old, attempting cleanup", "path", g.path)

	if err = g.recoverStale(ctx); err != nil {
		logger.ErrorKV(ctx, "Unable to recover stale update marker", "error", err)

		return true
	}

	return false
}

// Acquire creates the marker. The returned function removes it.
func (g *Guard) Acquire(ctx context.Context) (func() error, error) {
	if g.IsRunning(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, g.path)
	}

	//nolint:gosec // The marker path is configured by the operator.
	file, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerMode)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, g.path)
	}

	if err != nil {
		return nil, fmt.Errorf("create update marker: %w", err)
	}

	_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
	if err = multierror.Append(nil, writeErr, file.Close()).ErrorOrNil(); err != nil {
		_ = os.Remove(g.path)

		return nil, fmt.Errorf("write update marker: %w", err)
	}

	logger.DebugKV(ctx, "Update marker created", "path", g.path)

	release := func() error {
		if removeErr := os.Remove(g.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove update marker: %w", removeErr)
		}

		return nil
	}

	return release, nil
}

// Run executes fn while holding the marker.
func (g *Guard) Run(ctx context.Context, fn func(context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}

	var result *multierror.Error

	if err = fn(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	if err = release(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// recoverStale terminates the process recorded in a stale marker and removes it.
func (g *Guard) recoverStale(ctx context.Context) error {
	var result *multierror.Error

	pid, err := g.markerPID()
	if err != nil {
		logger.WarnKV(ctx, "Stale update marker has no process id", "error", err)
	}

	if pid > 0 && pid != os.Getpid() {
		if err = g.terminate(ctx, pid); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if result.ErrorOrNil() == nil {
		if err = os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// terminate kills pid when it still runs the same executable as this process.
func (g *Guard) terminate(ctx context.Context, pid int) error {
	process, err := g.find(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	if process == nil {
		return nil
	}

	if process.Executable() != currentExecutable() {
		logger.InfoKV(ctx, "Stale marker process id was reused, leaving it alone",
			"pid", pid, "executable", process.Executable())

		return nil
	}

	logger.InfoKV(ctx, "Terminating stale update run", "pid", pid)

	if err = g.kill(pid); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}

	return nil
}

func (g *Guard) markerPID() (int, error) {
	contents, err := os.ReadFile(g.path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(contents)))
}

func currentExecutable() string {
	self, err := ps.FindProcess(os.Getpid())
	if err == nil && self != nil {
		return self.Executable()
	}

	path, err := os.Executable()
	if err != nil {
		return ""
	}

	return filepath.Base(path)
}

func killProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Kill()
}
