// Package version exposes build metadata for the updater binaries.
//
// Version, Commit and BuildTime are injected at build time via Go ldflags.
// The User-Agent sent to update servers is derived from them.
package version
