package uart

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/project-steve/gs-bridge/internal/metrics"
)

// buildFrame wraps w in the inbound wire envelope: sync, length, payload,
// XOR checksum.
func buildFrame(w uint64) []byte {
	frame := make([]byte, 0, FrameSize)
	frame = append(frame, sync0, sync1, payloadLen)
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], w)
	var xor byte
	for _, b := range payload {
		xor ^= b
	}
	frame = append(frame, payload[:]...)
	return append(frame, xor)
}

func collect(d *Decoder, p []byte) []uint64 {
	var got []uint64
	d.FeedBytes(p, func(w uint64) { got = append(got, w) })
	return got
}

func TestDecoderSingleFrame(t *testing.T) {
	var d Decoder
	got := collect(&d, buildFrame(0x16421))
	if len(got) != 1 || got[0] != 0x16421 {
		t.Fatalf("decoded %#x, want [0x16421]", got)
	}
}

// TestDecoderChunked feeds a multi-frame stream in irregular chunks to
// stress partial-frame state. Payloads deliberately contain sync bytes.
func TestDecoderChunked(t *testing.T) {
	want := []uint64{
		0x16421,
		0xAA55AA55AA55AA55, // sync bytes inside the payload
		0,
		0xFFFFFFFFFFFFFFFF,
		0x00000005BC850000,
	}
	stream := make([]byte, 0, len(want)*FrameSize)
	for _, w := range want {
		stream = append(stream, buildFrame(w)...)
	}

	var d Decoder
	var got []uint64
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		d.FeedBytes(stream[pos:pos+n], func(w uint64) { got = append(got, w) })
		pos += n
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d words, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestDecoderGarbagePrefix(t *testing.T) {
	var d Decoder
	stream := append([]byte{0x00, 0x13, 0x37, 0xFE, 0x55, 0x08}, buildFrame(0x2D2D22)...)
	got := collect(&d, stream)
	if len(got) != 1 || got[0] != 0x2D2D22 {
		t.Fatalf("decoded %#x, want [0x2d2d22]", got)
	}
}

// TestDecoderRepeatedSync ensures a doubled first sync byte still frames:
// the stray AA is absorbed while the sync search stays armed.
func TestDecoderRepeatedSync(t *testing.T) {
	var d Decoder
	stream := append([]byte{sync0, sync0, sync0}, buildFrame(0x42)[1:]...) // AA AA (AA 55 08 ...)
	got := collect(&d, stream)
	if len(got) != 1 || got[0] != 0x42 {
		t.Fatalf("decoded %#x, want [0x42]", got)
	}
}

func TestDecoderChecksumCorrupt(t *testing.T) {
	var d Decoder
	pre := metrics.Snap().Framing

	bad := buildFrame(0x16421)
	bad[len(bad)-1] ^= 0xFF
	if got := collect(&d, bad); len(got) != 0 {
		t.Fatalf("corrupt frame decoded to %#x", got)
	}
	if post := metrics.Snap().Framing; post <= pre {
		t.Fatalf("expected framing metric increment, pre=%d post=%d", pre, post)
	}
	// Resync: the next clean frame decodes normally.
	if got := collect(&d, buildFrame(0x99)); len(got) != 1 || got[0] != 0x99 {
		t.Fatalf("post-corrupt decode = %#x, want [0x99]", got)
	}
}

func TestDecoderCorruptPayloadByte(t *testing.T) {
	var d Decoder
	bad := buildFrame(0xFFFFE4)
	bad[5] ^= 0x01 // flip one payload bit, checksum no longer matches
	if got := collect(&d, bad); len(got) != 0 {
		t.Fatalf("corrupt payload decoded to %#x", got)
	}
	if got := collect(&d, buildFrame(0xFFFFE4)); len(got) != 1 || got[0] != 0xFFFFE4 {
		t.Fatalf("resync decode = %#x, want [0xffffe4]", got)
	}
}

func TestDecoderBadLength(t *testing.T) {
	var d Decoder
	pre := metrics.Snap().Framing
	stream := append([]byte{sync0, sync1, 0x09}, buildFrame(0x7)...)
	got := collect(&d, stream)
	if len(got) != 1 || got[0] != 0x7 {
		t.Fatalf("decoded %#x, want [0x7]", got)
	}
	if post := metrics.Snap().Framing; post <= pre {
		t.Fatalf("expected framing metric increment, pre=%d post=%d", pre, post)
	}
}

func TestDecoderSyncBreak(t *testing.T) {
	var d Decoder
	stream := append([]byte{sync0, 0x77}, buildFrame(0x7)...)
	got := collect(&d, stream)
	if len(got) != 1 || got[0] != 0x7 {
		t.Fatalf("decoded %#x, want [0x7]", got)
	}
}

func TestDecoderReset(t *testing.T) {
	var d Decoder
	partial := buildFrame(0x1234)[:6]
	if got := collect(&d, partial); len(got) != 0 {
		t.Fatalf("partial frame decoded to %#x", got)
	}
	d.Reset()
	if got := collect(&d, buildFrame(0x1234)); len(got) != 1 || got[0] != 0x1234 {
		t.Fatalf("post-reset decode = %#x, want [0x1234]", got)
	}
}

func TestEncodeWordASCII(t *testing.T) {
	got := EncodeWord(0x1)
	if len(got) != ASCIIWordLen {
		t.Fatalf("encoded length %d, want %d", len(got), ASCIIWordLen)
	}
	want := append(bytes.Repeat([]byte{'0'}, 63), '1', '\r')
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeWord(0x1) = %q", got)
	}

	top := EncodeWord(1 << 63)
	if top[0] != '1' || top[64] != '\r' || bytes.Count(top, []byte{'1'}) != 1 {
		t.Fatalf("EncodeWord(1<<63) = %q", top)
	}
}

// TestEncodeWordBits re-reads the bit characters back into a value for a
// handful of patterns.
func TestEncodeWordBits(t *testing.T) {
	for _, w := range []uint64{0, 0x16421, 0xDEADBEEFFFEFFEA3, ^uint64(0)} {
		enc := EncodeWord(w)
		var back uint64
		for i := 0; i < 64; i++ {
			back <<= 1
			switch enc[i] {
			case '1':
				back |= 1
			case '0':
			default:
				t.Fatalf("unexpected byte %q at %d in %q", enc[i], i, enc)
			}
		}
		if back != w {
			t.Fatalf("re-read %#x, want %#x", back, w)
		}
		if enc[64] != '\r' {
			t.Fatalf("missing CR terminator in %q", enc)
		}
	}
}

func TestAppendWordPreservesPrefix(t *testing.T) {
	dst := []byte("prefix:")
	out := AppendWord(dst, 0x1)
	if !bytes.HasPrefix(out, []byte("prefix:")) {
		t.Fatalf("prefix lost: %q", out[:8])
	}
	if len(out) != len("prefix:")+ASCIIWordLen {
		t.Fatalf("length %d", len(out))
	}
}

// FuzzDecoder ensures arbitrary byte streams never panic the state machine
// and every emitted word re-frames to a decodable frame.
func FuzzDecoder(f *testing.F) {
	f.Add(buildFrame(0x16421))
	f.Add(append([]byte{0x00, sync0, sync0}, buildFrame(0xFF)...))
	bad := buildFrame(0x12345678)
	bad[11] ^= 0x80
	f.Add(bad)
	f.Add([]byte{sync0, sync1, 0x09, 0x01})
	f.Fuzz(func(t *testing.T, data []byte) {
		var d Decoder
		d.FeedBytes(data, func(w uint64) {
			var check Decoder
			n := 0
			check.FeedBytes(buildFrame(w), func(got uint64) {
				n++
				if got != w {
					t.Fatalf("re-framed word %#x, want %#x", got, w)
				}
			})
			if n != 1 {
				t.Fatalf("re-framed %d words from %#x", n, w)
			}
		})
	})
}
