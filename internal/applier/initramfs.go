package applier

import (
	"context"
	"time"

	"github.com/oshokin/device-updater/internal/logger"
)

// Initramfs applies a downloaded initramfs through a bounded operation.
type Initramfs struct {
	operation Operation
	timeout   time.Duration
}

// NewInitramfs creates the initramfs applier.
func NewInitramfs(operation Operation, timeout time.Duration) *Initramfs {
	return &Initramfs{
		operation: operation,
		timeout:   timeout,
	}
}

// Apply runs the operation. The returned error describes a timeout or a
// non-zero exit; callers report it instead of propagating it.
func (a *Initramfs) Apply(ctx context.Context) error {
	logger.InfoKV(ctx, "Applying initramfs", "timeout", a.timeout.String())

	code, err := a.operation.Run(ctx, a.timeout)
	if err != nil {
		logger.ErrorKV(ctx, "Initramfs update exited with error", "code", code, "error", err)

		return err
	}

	logger.Info(ctx, "Updated initramfs")

	return nil
}
