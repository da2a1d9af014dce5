// Package packager prepares artifacts for the update server.
//
// Root filesystem images are renamed to the dated <platform>_<time>.squashfs
// convention read from directory listings, and every artifact gets an md5sum
// style sidecar so devices can compare digests without downloading.
package packager
