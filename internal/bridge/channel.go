package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxDatagramSize is the largest UDP payload the bridge will forward,
// matching the maximum UDP payload size.
const MaxDatagramSize = 65535

// Errors returned by channel implementations.
var (
	// ErrChannelClosed is returned by channel operations after Close.
	ErrChannelClosed = errors.New("channel closed")

	// ErrDatagramTooLarge is returned when a message exceeds MaxDatagramSize.
	ErrDatagramTooLarge = errors.New("datagram exceeds maximum size")

	// ErrUnexpectedStream indicates an accepted sub-stream was not
	// receive-capable.
	ErrUnexpectedStream = errors.New("accepted sub-stream is not receive-capable")
)

// Channel is an established, authenticated secure channel between two peers.
// The bridge treats it as an external capability: it creates exactly one
// persistent send sub-stream, accepts at most one inbound sub-stream, and
// closes the channel when forwarding ends.
type Channel interface {
	// CreateSendStream opens a new persistent unidirectional send sub-stream.
	CreateSendStream(ctx context.Context) (SendStream, error)

	// AcceptStream blocks until the remote peer initiates a sub-stream.
	// The returned stream is not necessarily receive-capable; callers must
	// type-assert to ReceiveStream.
	AcceptStream(ctx context.Context) (Stream, error)

	// Close terminates the channel and all its sub-streams.
	Close() error
}

// Stream is the common interface for sub-streams accepted from a Channel.
type Stream interface {
	Close() error
}

// SendStream is a unidirectional message-framed send sub-stream.
type SendStream interface {
	// WriteMessage writes the payload as one message, preserving the
	// message boundary so the receiver recovers exactly this payload.
	WriteMessage(payload []byte) error

	// Close signals end-of-stream to the receiver.
	Close() error
}

// ReceiveStream is a unidirectional message-framed receive sub-stream.
type ReceiveStream interface {
	Stream

	// ReadMessage blocks until one message arrives and returns its payload.
	// It returns io.EOF on clean end-of-stream.
	ReadMessage() ([]byte, error)
}

// Role identifies which side of the bridge this process runs as. The two
// roles are symmetric at the pump level; the role decides which end of the
// conversation the local listen socket serves (commands vs. replies) and is
// carried in logs and the channel handshake.
type Role int

const (
	// RoleInitiator originates the secure channel and forwards local
	// traffic toward the responder.
	RoleInitiator Role = iota

	// RoleResponder waits for the channel and forwards received traffic
	// to its local target.
	RoleResponder
)

// String returns the lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "initiator":
		return RoleInitiator, nil
	case "responder":
		return RoleResponder, nil
	default:
		return 0, fmt.Errorf("invalid role: %q (must be initiator or responder)", s)
	}
}
