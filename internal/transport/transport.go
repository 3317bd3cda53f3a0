package transport

import (
	"io"

	"github.com/project-steve/gs-bridge/internal/gs"
)

// MessageDecoder decodes a single length-prefixed control message from a stream.
type MessageDecoder interface {
	Decode(r io.Reader) ([]byte, error)
}

// MessageEncoder frames outbound control messages (to bytes or directly to a writer).
type MessageEncoder interface {
	Encode(msg []byte) []byte
	EncodeTo(w io.Writer, msg []byte) (int, error)
}

// WordSink is a transmission target for instruction words.
type WordSink interface {
	SendWord(v uint64) error
}

// Compile-time assertions that gs.Codec satisfies the framing capabilities.
var (
	_ MessageDecoder = (*gs.Codec)(nil)
	_ MessageEncoder = (*gs.Codec)(nil)
)
