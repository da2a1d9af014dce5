// Package updater is the update engine of the device.
//
// The engine answers four requests: whether a new initramfs or root
// filesystem image is available, and applying either of them. It reads the
// installed build info through a cache, resolves remote versions with the
// configured strategy, downloads artifacts atomically and applies or stages
// them. Expected failures are reported in the result; configuration errors
// and malformed release tags are returned as errors.
//
// Run is the entry point of the command line: it loads settings, holds the
// run guard and prints the result as JSON.
package updater
