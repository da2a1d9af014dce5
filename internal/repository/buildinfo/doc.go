// Package buildinfo caches the metadata of the installed image.
//
// The Cache loads the JSON build info file on first access and keeps it for
// the lifetime of its owner. It is the only writer of that mapping: callers
// receive copies, and Reset (called explicitly or by Watch when the file
// changes) forces the next Get to reload.
package buildinfo
