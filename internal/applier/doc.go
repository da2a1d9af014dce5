// Package applier installs fetched artifacts.
//
// The initramfs is applied immediately by a bounded external operation,
// normally a systemd unit. The root filesystem image is only staged: it is
// copied to the path the boot process reads on the next restart.
package applier
