package protocol

import "fmt"

// ProtocolError marks a malformed or out-of-place message. The server
// rejects the single message and keeps the connection, unless the session
// has not completed its handshake yet, in which case the connection is
// closed because the peer cannot be trusted.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// IdentityError marks a handshake asserting an empty or unverifiable
// participant identity. The connection is always closed.
type IdentityError struct {
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity error: %s", e.Reason)
}
