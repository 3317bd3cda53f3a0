package uart

import (
	"encoding/binary"

	"github.com/project-steve/gs-bridge/internal/metrics"
)

// Inbound wire format (controller -> bridge):
//
// AA 55 - sync
// 08    - payload length, always 8
// 8 payload bytes, big-endian instruction word
// XX    - XOR of the 8 payload bytes
//
// Outbound words (bridge -> controller) use the ASCII form instead: 64
// '0'/'1' characters, most significant bit first, terminated by a carriage
// return. The asymmetry is deliberate; the controller transmits binary
// frames and parses the ASCII form.

const (
	sync0      = 0xAA
	sync1      = 0x55
	payloadLen = 8

	// FrameSize is the full inbound frame length on the wire.
	FrameSize = 2 + 1 + payloadLen + 1

	// ASCIIWordLen is the outbound encoding length: 64 bit characters + CR.
	ASCIIWordLen = 65
)

type decodeState int

const (
	waitSync0 decodeState = iota
	waitSync1
	readLen
	readPayload
	readChecksum
)

// Decoder reconstructs instruction words from the inbound serial byte
// stream one byte at a time, resynchronizing on any sync, length or
// checksum violation. Not safe for concurrent use; a single goroutine owns
// each instance.
type Decoder struct {
	st  decodeState
	n   int
	xor byte
	buf [payloadLen]byte
}

// Reset returns the decoder to the initial sync search, discarding any
// partial frame.
func (d *Decoder) Reset() {
	d.st = waitSync0
	d.n = 0
	d.xor = 0
}

// Feed consumes one byte and reports a completed word when the byte closes
// a valid frame.
func (d *Decoder) Feed(b byte) (uint64, bool) {
	switch d.st {
	case waitSync0:
		if b == sync0 {
			d.st = waitSync1
		}
	case waitSync1:
		switch b {
		case sync1:
			d.st = readLen
		case sync0:
			// Repeated sync0 stays armed: AA AA 55 .. must still frame.
		default:
			metrics.IncFraming(metrics.FrameSync)
			d.st = waitSync0
		}
	case readLen:
		if b != payloadLen {
			metrics.IncFraming(metrics.FrameLength)
			d.st = waitSync0
			break
		}
		d.n = 0
		d.xor = 0
		d.st = readPayload
	case readPayload:
		d.buf[d.n] = b
		d.xor ^= b
		d.n++
		if d.n == payloadLen {
			d.st = readChecksum
		}
	case readChecksum:
		d.st = waitSync0
		if b != d.xor {
			metrics.IncFraming(metrics.FrameChecksum)
			break
		}
		metrics.IncUARTRx()
		return binary.BigEndian.Uint64(d.buf[:]), true
	}
	return 0, false
}

// FeedBytes feeds a burst of bytes, invoking emit for every completed word
// in stream order.
func (d *Decoder) FeedBytes(p []byte, emit func(uint64)) {
	for _, b := range p {
		if w, ok := d.Feed(b); ok {
			emit(w)
		}
	}
}

// AppendWord appends the ASCII transmission form of w to dst.
func AppendWord(dst []byte, w uint64) []byte {
	for i := 63; i >= 0; i-- {
		dst = append(dst, '0'+byte((w>>uint(i))&1))
	}
	return append(dst, '\r')
}

// EncodeWord returns the 65-byte ASCII transmission form of w.
func EncodeWord(w uint64) []byte {
	return AppendWord(make([]byte, 0, ASCIIWordLen), w)
}
