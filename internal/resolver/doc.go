// Package resolver decides whether a newer root filesystem image exists.
//
// Two strategies implement Resolver and are never mixed:
//   - Timestamp compares dated file names from a directory listing with the
//     installed timestamp and fails open on unparsable timestamps;
//   - Release looks up the latest release tag of a channel and maps it to a
//     platform-specific download, failing closed on malformed tags.
//
// Resolvers only read: they never touch the build info or local files.
package resolver
