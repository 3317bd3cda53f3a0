package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/project-steve/gs-bridge/internal/metrics"
	"github.com/project-steve/gs-bridge/internal/uart"
)

// fakeSerialPort implements uart.Port for tests: canned read chunks, then
// idle EOFs; every write is recorded.
type fakeSerialPort struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	writes [][]byte
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.idx < len(f.reads) {
		chunk := f.reads[f.idx]
		f.idx++
		f.mu.Unlock()
		return copy(p, chunk), nil
	}
	f.mu.Unlock()
	// After delivering all data, behave like a quiet port with a read
	// timeout: block briefly, then report nothing.
	time.Sleep(10 * time.Millisecond)
	return 0, io.EOF
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakeSerialPort) Close() error { return nil }

func (f *fakeSerialPort) hasWrite(want []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if bytes.Equal(w, want) {
			return true
		}
	}
	return false
}

// testLogger returns a no-op slog.Logger for tests.
func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// radioChunk is one valid inbound radio frame as raw bytes.
func radioChunk(w uint64) []byte {
	chunk := []byte{0xAA, 0x55, 0x08}
	var xor byte
	for i := 7; i >= 0; i-- {
		b := byte(w >> (8 * i))
		chunk = append(chunk, b)
		xor ^= b
	}
	return append(chunk, xor)
}

// TestInitSerialBasic validates the RX pump delivers raw chunks unchanged
// and that both transmit paths reach the port.
func TestInitSerialBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunk := radioChunk(0x16425)
	fp := &fakeSerialPort{reads: [][]byte{chunk}}
	openSerialPort = func(name string, baud int, to time.Duration) (uart.Port, error) {
		return fp, nil
	}
	defer func() { openSerialPort = uart.Open }()

	pre := metrics.Snap()
	cfg := &appConfig{device: "fake", baud: 115200, serialReadTO: 50 * time.Millisecond}
	var wg sync.WaitGroup
	w, rx, rawWrite, cleanup, err := initSerial(ctx, cfg, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerial: %v", err)
	}
	defer cleanup()

	select {
	case got := <-rx:
		if !bytes.Equal(got, chunk) {
			t.Fatalf("rx chunk = %x, want %x", got, chunk)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for rx chunk")
	}
	if d := metrics.Snap().RxBytes - pre.RxBytes; d < uint64(len(chunk)) {
		t.Fatalf("RxBytes delta = %d, want >= %d", d, len(chunk))
	}

	// Modem commands write through the shared ref synchronously.
	if err := rawWrite([]byte("$$$")); err != nil {
		t.Fatalf("rawWrite: %v", err)
	}
	if !fp.hasWrite([]byte("$$$")) {
		t.Fatal("raw command did not reach the port")
	}

	// Instruction words go through the async writer.
	if err := w.SendWord(0x16421); err != nil {
		t.Fatalf("SendWord: %v", err)
	}
	want := uart.EncodeWord(0x16421)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && !fp.hasWrite(want) {
		time.Sleep(2 * time.Millisecond)
	}
	if !fp.hasWrite(want) {
		t.Fatal("encoded word did not reach the port")
	}
}

func TestInitSerialOpenError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	boom := errors.New("no such device")
	openSerialPort = func(name string, baud int, to time.Duration) (uart.Port, error) {
		return nil, boom
	}
	defer func() { openSerialPort = uart.Open }()

	cfg := &appConfig{device: "absent", baud: 115200, serialReadTO: 50 * time.Millisecond}
	var wg sync.WaitGroup
	_, _, _, cleanup, err := initSerial(ctx, cfg, testLogger(), &wg)
	defer cleanup()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
