// Package gs implements the control-channel protocol spoken with the
// operator application: length-prefixed JSON messages over a local stream
// socket, translated to and from 64-bit instruction words.
package gs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/project-steve/gs-bridge/internal/metrics"
)

// MaxMessage caps a single control-channel message. Anything larger is a
// framing violation and tears the session down.
const MaxMessage = 1 << 20

// Codec frames control-channel messages as [4-byte big-endian length][JSON].
// Stateless and safe for concurrent use.
type Codec struct{}

// ErrInvalidLength is returned when a message length is zero or above
// MaxMessage.
var ErrInvalidLength = errors.New("gs: invalid message length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-message.
var ErrTruncatedFrame = errors.New("gs: truncated message")

// Decode reads exactly one framed message from r.
// It returns io.EOF if called at a clean message boundary and no more data
// is available.
func (Codec) Decode(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("gs decode header: %w", ErrTruncatedFrame)
		}
		return nil, err
	}
	ln := binary.BigEndian.Uint32(hdr[:])
	if ln == 0 || ln > MaxMessage {
		metrics.IncError(metrics.ErrCtlOversize)
		return nil, fmt.Errorf("gs decode: %w (%d)", ErrInvalidLength, ln)
	}
	msg := make([]byte, ln)
	if _, err := io.ReadFull(r, msg); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("gs decode payload: %w", ErrTruncatedFrame)
		}
		return nil, fmt.Errorf("gs decode payload: %w", err)
	}
	return msg, nil
}

// Encode returns the wire form of msg.
func (c Codec) Encode(msg []byte) []byte {
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out[:4], uint32(len(msg)))
	copy(out[4:], msg)
	return out
}

// EncodeTo writes the wire form of msg to w and returns bytes written.
func (Codec) EncodeTo(w io.Writer, msg []byte) (int, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	n, err := w.Write(hdr[:])
	if err != nil {
		return n, fmt.Errorf("gs encode header: %w", err)
	}
	m, err := w.Write(msg)
	n += m
	if err != nil {
		return n, fmt.Errorf("gs encode payload: %w", err)
	}
	return n, nil
}
