// Package e2e holds end-to-end tests that drive the client library
// against the in-process test server.
package e2e
