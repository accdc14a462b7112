// Package protocol defines the WebSocket frames exchanged with dashboard clients.
package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound command types.
const (
	TypeFeed     = "FEED"
	TypeSnapshot = "SNAPSHOT"
	TypeHistory  = "HISTORY"
)

// Outbound frame types that are not event types.
const (
	TypeHello = "HELLO"
	TypeError = "ERROR"
	TypeAck   = "ACK"
)

// Error codes carried by ERROR frames.
const (
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrStopped    = "E_STOPPED"
	ErrInternal   = "E_INTERNAL"
)

//go:embed command.schema.json
var commandSchemaJSON string

var commandSchema = jsonschema.MustCompileString("command.schema.json", commandSchemaJSON)

// Command is a validated client request.
type Command struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// DecodeCommand validates b against the command schema and decodes it.
func DecodeCommand(b []byte) (Command, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	if err := commandSchema.Validate(raw); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}

	var cmd Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		return Command{}, fmt.Errorf("decoding command: %w", err)
	}
	return cmd, nil
}

// Frame is the envelope of every server-to-client message.
type Frame struct {
	Type      string `json:"type"`
	Seq       uint64 `json:"seq,omitempty"` // Event sequence, for event frames
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ErrorFrame builds an ERROR frame answering requestID.
func ErrorFrame(requestID, code, message string) Frame {
	return Frame{Type: TypeError, RequestID: requestID, Code: code, Message: message}
}

// Encode marshals a frame for the wire.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
