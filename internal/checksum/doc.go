// Package checksum computes content fingerprints and compares a local file
// against a candidate, either through a published digest or through a
// downloaded copy.
//
// The fingerprint is MD5: it detects any byte difference and is what the
// image publisher writes into sidecar files. It is not a security control.
package checksum
