package channel

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/orbitalsys/telebridge/internal/bridge"
)

// Message framing: a 4-byte big-endian length prefix followed by the payload.
// The prefix is what lets receivers recover exact datagram boundaries from a
// byte stream; QUIC itself does not frame application messages.
const headerSize = 4

// WriteMessage writes one length-prefixed message to w.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > bridge.MaxDatagramSize {
		return bridge.ErrDatagramTooLarge
	}

	// Header and payload go out in a single Write so a message is never
	// interleaved with a concurrent writer's output.
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one length-prefixed message from r. It returns io.EOF
// when the stream ends cleanly on a message boundary.
func ReadMessage(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		// io.EOF here is a clean end-of-stream; mid-header EOF surfaces
		// as io.ErrUnexpectedEOF.
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > bridge.MaxDatagramSize {
		return nil, fmt.Errorf("message length %d exceeds maximum %d", length, bridge.MaxDatagramSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return payload, nil
}
