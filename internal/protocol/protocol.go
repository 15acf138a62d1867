package protocol

import (
	"fmt"
	"strings"
)

// Protocol constants
const (
	// Opcodes sent by clients
	OpcodeLogin   = 'L' // Payload is the login name
	OpcodeMessage = 'M' // Payload is the chat text
	OpcodeQuit    = 'Q' // Payload is an optional goodbye text

	// Opcode emitted by the server only
	OpcodeStatus = 'S' // Payload is the current member count

	// Minimum encoded line size: one opcode byte, payload may be empty
	MinLineSize = 1
)

// Message represents a single decoded chat protocol line.
// Layout on the wire: [Opcode:1][Payload:N]\n
type Message struct {
	Opcode  byte   // L=login, M=message, Q=quit, S=status
	Payload string // Raw text, no escaping
}

// DecodeLine parses one protocol line (without its trailing newline).
// The first byte is the opcode, the remainder is the payload. An empty
// line carries no opcode and is rejected.
func DecodeLine(line string) (Message, error) {
	if len(line) < MinLineSize {
		return Message{}, fmt.Errorf("line too short: expected at least %d byte, got %d", MinLineSize, len(line))
	}

	return Message{
		Opcode:  line[0],
		Payload: line[1:],
	}, nil
}

// EncodeLine serializes a message into its wire form including the
// trailing newline. A payload containing a newline is not representable
// in this protocol; it would split into two lines on the receiving side.
func EncodeLine(msg Message) string {
	var b strings.Builder
	b.Grow(MinLineSize + len(msg.Payload) + 1)
	b.WriteByte(msg.Opcode)
	b.WriteString(msg.Payload)
	b.WriteByte('\n')
	return b.String()
}

// IsClientOpcode checks if the opcode is one a client may send.
func IsClientOpcode(op byte) bool {
	return op == OpcodeLogin || op == OpcodeMessage || op == OpcodeQuit
}

// IsValidOpcode checks if the opcode is known to the protocol at all,
// including server-emitted status lines.
func IsValidOpcode(op byte) bool {
	return IsClientOpcode(op) || op == OpcodeStatus
}

// OpcodeString converts an opcode to a human-readable name for logging.
func OpcodeString(op byte) string {
	switch op {
	case OpcodeLogin:
		return "Login"
	case OpcodeMessage:
		return "Message"
	case OpcodeQuit:
		return "Quit"
	case OpcodeStatus:
		return "Status"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", op)
	}
}

// String returns a human-readable representation of the message
func (m Message) String() string {
	return fmt.Sprintf("Message{Opcode:%s, PayloadLen:%d}", OpcodeString(m.Opcode), len(m.Payload))
}
