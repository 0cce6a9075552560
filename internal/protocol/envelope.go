// Package protocol defines the chat envelope and its newline-delimited JSON framing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the closed set of envelope kinds.
type Type string

const (
	TypeConnect      Type = "connect"
	TypeMessage      Type = "message"
	TypeTypingStatus Type = "typing_status"
)

// SystemUsername marks server-authored notices. Their content is plaintext.
const SystemUsername = "System"

var (
	// ErrUnknownType indicates the type tag is missing or not recognized.
	ErrUnknownType = errors.New("protocol: unknown envelope type")
	// ErrMissingField indicates a field required by the envelope type is absent.
	ErrMissingField = errors.New("protocol: missing required field")
)

// Envelope is one chat protocol unit.
type Envelope struct {
	Type     Type
	Username string
	Content  string // message only
	IsTyping bool   // typing_status only
}

// wireEnvelope mirrors the JSON shape; pointers tell absent fields from zero values.
type wireEnvelope struct {
	Type     Type    `json:"type"`
	Username *string `json:"username,omitempty"`
	Content  *string `json:"content,omitempty"`
	IsTyping *bool   `json:"is_typing,omitempty"`
}

// Connect builds the first frame a client sends.
func Connect(username string) Envelope {
	return Envelope{Type: TypeConnect, Username: username}
}

// Message builds a chat message envelope.
func Message(username, content string) Envelope {
	return Envelope{Type: TypeMessage, Username: username, Content: content}
}

// TypingStatus builds a typing-presence envelope.
func TypingStatus(username string, typing bool) Envelope {
	return Envelope{Type: TypeTypingStatus, Username: username, IsTyping: typing}
}

// SystemNotice builds a plaintext server-authored message.
func SystemNotice(content string) Envelope {
	return Message(SystemUsername, content)
}

// IsSystem reports whether the envelope was authored by the server.
func (e Envelope) IsSystem() bool {
	return e.Username == SystemUsername
}

// Validate checks that exactly the fields required by the type are usable.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeConnect, TypeMessage, TypeTypingStatus:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, string(e.Type))
	}
	if e.Username == "" {
		return fmt.Errorf("%w: username", ErrMissingField)
	}
	return nil
}

// MarshalJSON emits only the fields that belong to the envelope type.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	username := e.Username
	wire := wireEnvelope{Type: e.Type, Username: &username}
	switch e.Type {
	case TypeMessage:
		content := e.Content
		wire.Content = &content
	case TypeTypingStatus:
		typing := e.IsTyping
		wire.IsTyping = &typing
	}
	return json.Marshal(wire)
}

// UnmarshalJSON rejects unknown types and envelopes missing required fields.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	decoded := Envelope{Type: wire.Type}
	if wire.Username != nil {
		decoded.Username = *wire.Username
	}
	if err := decoded.Validate(); err != nil {
		return err
	}

	switch decoded.Type {
	case TypeMessage:
		if wire.Content == nil {
			return fmt.Errorf("%w: content", ErrMissingField)
		}
		decoded.Content = *wire.Content
	case TypeTypingStatus:
		if wire.IsTyping == nil {
			return fmt.Errorf("%w: is_typing", ErrMissingField)
		}
		decoded.IsTyping = *wire.IsTyping
	}

	*e = decoded
	return nil
}
