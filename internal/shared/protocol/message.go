package protocol

import (
	"errors"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// MessageType defines the type of relay control message
type MessageType string

const (
	// TypeJoin is sent when a peer connects and joins a relay session
	TypeJoin MessageType = "join"
	// TypePaired is sent by the relay once both peers of a session are present
	TypePaired MessageType = "paired"
	// TypeError is sent when an error occurs
	TypeError MessageType = "error"
)

// Role is the QPACK role a peer plays within a session.
type Role string

const (
	RoleEncoder Role = "encoder"
	RoleDecoder Role = "decoder"
)

// Message represents a relay control message
type Message struct {
	Type    MessageType `json:"type" msgpack:"type"`
	Session string      `json:"session,omitempty" msgpack:"session,omitempty"`
	Role    Role        `json:"role,omitempty" msgpack:"role,omitempty"`
	Error   string      `json:"error,omitempty" msgpack:"error,omitempty"`

	// Compression parameters announced on join so both peers configure
	// their codecs identically.
	MaxCapacity    uint64 `json:"max_capacity,omitempty" msgpack:"max_capacity,omitempty"`
	BlockedStreams uint16 `json:"blocked_streams,omitempty" msgpack:"blocked_streams,omitempty"`
}

// EncodeMessage encodes a control message using msgpack.
func EncodeMessage(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeMessage decodes a control message with automatic format detection.
// Detects based on first byte: '{' = JSON, else = msgpack.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, errors.New("empty message")
	}
	var m Message
	if data[0] == '{' {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	} else {
		if err := msgpack.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
