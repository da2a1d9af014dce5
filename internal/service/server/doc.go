// Package server runs the device updater as a long-lived gRPC daemon with an
// optional Prometheus endpoint.
package server
