// Package server implements the TCP chat server and the monitoring HTTP API.
// It accepts client connections, runs one session goroutine per connection for
// the line protocol, and fans chat lines out through the shared client registry.
package server
