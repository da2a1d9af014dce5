// Package remote talks to the update servers over HTTP: it opens artifact
// streams, reads small text and JSON documents and scrapes directory listings
// for links. Failed requests are retried with exponential backoff.
package remote
