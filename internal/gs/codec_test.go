package gs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	var c Codec
	msg := []byte(`{"type":"C","forward":1,"speed":50}`)
	wire := c.Encode(msg)
	if len(wire) != 4+len(msg) {
		t.Fatalf("wire length = %d, want %d", len(wire), 4+len(msg))
	}
	if got := binary.BigEndian.Uint32(wire[:4]); got != uint32(len(msg)) {
		t.Fatalf("length prefix = %d, want %d", got, len(msg))
	}
	out, err := c.Decode(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("Decode = %q, want %q", out, msg)
	}
}

func TestCodecEncodeTo(t *testing.T) {
	var c Codec
	msg := []byte(`{"type":"Q"}`)
	var buf bytes.Buffer
	n, err := c.EncodeTo(&buf, msg)
	if err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	if n != 4+len(msg) {
		t.Fatalf("EncodeTo wrote %d bytes, want %d", n, 4+len(msg))
	}
	if !bytes.Equal(buf.Bytes(), c.Encode(msg)) {
		t.Fatalf("EncodeTo output differs from Encode")
	}
}

func TestCodecSequentialFrames(t *testing.T) {
	var c Codec
	msgs := [][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`), []byte(`{"c":3}`)}
	var buf bytes.Buffer
	for _, m := range msgs {
		buf.Write(c.Encode(m))
	}
	for i, want := range msgs {
		got, err := c.Decode(&buf)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d = %q, want %q", i, got, want)
		}
	}
	if _, err := c.Decode(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("after last frame err = %v, want io.EOF", err)
	}
}

func TestCodecCleanEOF(t *testing.T) {
	var c Codec
	_, err := c.Decode(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("empty stream err = %v, want io.EOF", err)
	}
}

func TestCodecZeroLength(t *testing.T) {
	var c Codec
	_, err := c.Decode(bytes.NewReader([]byte{0, 0, 0, 0}))
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("zero length err = %v, want ErrInvalidLength", err)
	}
}

func TestCodecOversizeLength(t *testing.T) {
	var c Codec
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxMessage+1)
	_, err := c.Decode(bytes.NewReader(hdr[:]))
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("oversize err = %v, want ErrInvalidLength", err)
	}
}

func TestCodecMaxLengthAccepted(t *testing.T) {
	var c Codec
	msg := bytes.Repeat([]byte{'x'}, MaxMessage)
	out, err := c.Decode(bytes.NewReader(c.Encode(msg)))
	if err != nil {
		t.Fatalf("Decode at limit: %v", err)
	}
	if len(out) != MaxMessage {
		t.Fatalf("decoded %d bytes, want %d", len(out), MaxMessage)
	}
}

func TestCodecTruncatedHeader(t *testing.T) {
	var c Codec
	_, err := c.Decode(bytes.NewReader([]byte{0, 0}))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("short header err = %v, want ErrTruncatedFrame", err)
	}
}

func TestCodecTruncatedPayload(t *testing.T) {
	var c Codec
	wire := c.Encode([]byte("0123456789"))
	_, err := c.Decode(bytes.NewReader(wire[:7]))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("short payload err = %v, want ErrTruncatedFrame", err)
	}
}

var benchMsg = []byte(`{"type":"SR","speed":100,"state":1,"motor":1,"robot_id":2,"curr_pos":2147483647}`)

func BenchmarkCodec_Encode(b *testing.B) {
	c := Codec{}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Encode(benchMsg)
	}
}

func BenchmarkCodec_EncodeTo(b *testing.B) {
	c := Codec{}
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = c.EncodeTo(&buf, benchMsg)
	}
}

func BenchmarkCodec_Decode(b *testing.B) {
	c := Codec{}
	wire := c.Encode(benchMsg)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r := bytes.NewReader(wire)
		_, _ = c.Decode(r)
	}
}
