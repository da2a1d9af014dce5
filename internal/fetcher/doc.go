// Package fetcher downloads update artifacts to local storage.
//
// A download is validated before the first byte is written and lands in a
// temporary file next to the destination; the destination appears only after
// the whole body was written and synced. Either the final path is absent or it
// holds a complete artifact.
package fetcher
