// Package metrics exposes Prometheus counters for update checks, downloads
// and applies. A nil *Collector records nothing.
package metrics
