// Package protocol implements the newline-delimited chat line codec.
// Every line starts with a single opcode byte (login, message, quit or
// server status) followed by the raw payload text with no escaping.
package protocol
