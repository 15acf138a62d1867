// Package relay implements the UDP datagram fan-out loop.
// It relays received payloads either to every registered chat client except
// the sender (broadcast mode) or once to a fixed multicast group (multicast mode).
package relay
