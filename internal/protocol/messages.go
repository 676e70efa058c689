// Package protocol defines the wire schema shared by the scrawl server and
// its clients. One message is one JSON object carrying a required "type"
// discriminator; Decode validates the fields each type requires before any
// component acts on the message.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type discriminates wire messages.
type Type string

const (
	TypeHandshake     Type = "handshake"
	TypeSnapshot      Type = "snapshot"
	TypeOperation     Type = "operation"
	TypeCursorUpdate  Type = "cursorUpdate"
	TypeClear         Type = "clear"
	TypePresenceJoin  Type = "presenceJoin"
	TypePresenceLeave Type = "presenceLeave"
	TypeHeartbeat     Type = "heartbeat"
	TypeError         Type = "error"
)

// Kind classifies drawing operations.
type Kind string

const (
	KindStroke Kind = "stroke"
	KindErase  Kind = "erase"
	KindClear  Kind = "clear"
)

// Point is a canvas coordinate. The core never interprets it beyond
// relaying cursor positions.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Operation is one immutable, author-attributed drawing action. The payload
// (tool, color, width, point sequence) is opaque to the core. CreatedAt is
// the server-assigned log position; clients must treat ID as the identity
// for deduplication.
type Operation struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	AuthorID  string          `json:"authorId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

// Participant is a durable identity as seen on the wire, decorated with the
// presence state the registry currently holds for it.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Active      bool   `json:"active"`
	Cursor      *Point `json:"cursor,omitempty"`
}

// Envelope is the single wire frame. Fields beyond Type are populated per
// message type; Decode enforces which ones are required.
type Envelope struct {
	Type Type `json:"type"`

	// handshake
	ParticipantID string `json:"participantId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	Color         string `json:"color,omitempty"`
	Token         string `json:"token,omitempty"`

	// operation
	Operation *Operation `json:"operation,omitempty"`

	// snapshot
	Participants []Participant `json:"participants,omitempty"`
	Operations   []Operation   `json:"operations,omitempty"`
	Version      uint64        `json:"version,omitempty"`

	// cursorUpdate
	Point *Point `json:"point,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Decode parses one wire frame and validates the fields its type requires.
// A malformed frame yields a *ProtocolError; a handshake asserting an
// unusable identity yields an *IdentityError.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Reason: "missing type discriminator"}
	}

	switch env.Type {
	case TypeHandshake:
		if env.ParticipantID == "" {
			return nil, &IdentityError{Reason: "handshake requires a participantId"}
		}
		if env.DisplayName == "" {
			return nil, &IdentityError{Reason: "handshake requires a displayName"}
		}
	case TypeOperation:
		if env.Operation == nil {
			return nil, &ProtocolError{Reason: "operation message carries no operation"}
		}
		if err := ValidateOperation(env.Operation); err != nil {
			return nil, err
		}
	case TypeCursorUpdate:
		if env.Point == nil {
			return nil, &ProtocolError{Reason: "cursorUpdate requires a point"}
		}
	case TypeClear, TypeHeartbeat:
		// No required fields beyond the discriminator.
	case TypeSnapshot, TypePresenceJoin, TypePresenceLeave, TypeError:
		// Server-to-client types; accepted here so client code can reuse
		// Decode on its inbound feed.
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
	return &env, nil
}

// ValidateOperation checks the invariant fields of a client-submitted
// operation. CreatedAt is ignored: the log assigns it.
func ValidateOperation(op *Operation) error {
	if op.ID == "" {
		return &ProtocolError{Reason: "operation requires an id"}
	}
	switch op.Kind {
	case KindStroke, KindErase, KindClear:
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown operation kind %q", op.Kind)}
	}
	return nil
}

// Encode marshals an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", env.Type, err)
	}
	return data, nil
}

// NewSnapshot builds the full reconciliation payload pushed to a session
// right after its handshake completes.
func NewSnapshot(participants []Participant, operations []Operation, version uint64) *Envelope {
	return &Envelope{
		Type:         TypeSnapshot,
		Participants: participants,
		Operations:   operations,
		Version:      version,
	}
}

// NewOperationEvent wraps an accepted operation for fan-out.
func NewOperationEvent(op Operation, version uint64) *Envelope {
	return &Envelope{Type: TypeOperation, Operation: &op, Version: version}
}

// NewCursorEvent relays a participant's cursor position. Never logged.
func NewCursorEvent(participantID string, point Point) *Envelope {
	return &Envelope{Type: TypeCursorUpdate, ParticipantID: participantID, Point: &point}
}

// NewPresenceEvent announces a participant joining or leaving.
func NewPresenceEvent(t Type, participantID string) *Envelope {
	return &Envelope{Type: t, ParticipantID: participantID}
}

// NewErrorNotice reports a rejected message back to its sender without
// closing the connection.
func NewErrorNotice(msg string) *Envelope {
	return &Envelope{Type: TypeError, Message: msg}
}
