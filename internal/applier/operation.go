package applier

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/oshokin/device-updater/internal/domain/update"
)

const (
	// NoExitCode is reported when the operation did not exit on its own.
	NoExitCode = -1

	// waitDelay bounds the wait for output pipes after the process was killed.
	waitDelay = time.Second
	// maxOutput is how much command output is kept for error messages.
	maxOutput = 512
)

// Operation runs an external action, waits up to timeout and reports its exit status.
type Operation interface {
	Run(ctx context.Context, timeout time.Duration) (exitCode int, err error)
}

// CommandOperation runs an executable with arguments.
type CommandOperation struct {
	name string
	args []string
}

// NewCommandOperation creates an operation running name with args.
func NewCommandOperation(name string, args ...string) *CommandOperation {
	return &CommandOperation{
		name: name,
		args: args,
	}
}

// NewServiceOperation creates an operation starting a systemd unit.
func NewServiceOperation(unit string) *CommandOperation {
	return NewCommandOperation("systemctl", "start", unit)
}

// String returns the command line.
func (o *CommandOperation) String() string {
	return strings.Join(append([]string{o.name}, o.args...), " ")
}

// Run implements Operation. A deadline is reported as ErrTimeout and a
// non-zero exit as ErrExitStatus, both with the exit code.
func (o *CommandOperation) Run(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	//nolint:gosec // The command comes from the operator configuration.
	cmd := exec.CommandContext(ctx, o.name, o.args...)
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	if err == nil {
		return 0, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NoExitCode, fmt.Errorf("%s: %w after %s", o, update.ErrTimeout, timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), fmt.Errorf("%s: %w: code %d: %s",
			o, update.ErrExitStatus, exitErr.ExitCode(), trimOutput(output))
	}

	return NoExitCode, fmt.Errorf("%s: %w: %w", o, update.ErrProcess, err)
}

func trimOutput(output []byte) string {
	text := strings.TrimSpace(string(output))
	if len(text) > maxOutput {
		text = text[len(text)-maxOutput:]
	}

	return text
}
