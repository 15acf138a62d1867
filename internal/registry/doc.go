// Package registry provides the shared collection of connected chat clients.
// It manages client handles with a single mutual-exclusion discipline so that
// broadcast fan-out, address comparison and registration never race.
package registry
