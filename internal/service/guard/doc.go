// Package guard keeps update runs from overlapping.
//
// A run holds a marker file carrying its process id. A marker older than the
// configured lifetime is stale: the process that wrote it is killed if it is
// still alive and the marker is taken over.
package guard
