package uart

import (
	"context"
	"errors"
	"fmt"

	"github.com/project-steve/gs-bridge/internal/logging"
	"github.com/project-steve/gs-bridge/internal/metrics"
	"github.com/project-steve/gs-bridge/internal/transport"
)

// ErrTxOverflow reports a full transmit queue; the word was not sent.
var ErrTxOverflow = errors.New("uart tx overflow")

// ErrShortWrite reports a partial write to the serial device. Short writes
// are transport errors, never retried transparently.
var ErrShortWrite = errors.New("uart short write")

// TXWriter funnels all serial writes through one goroutine: encoded
// instruction words and out-of-band modem command payloads share the same
// queue, so their byte streams never interleave.
type TXWriter struct{ base *transport.AsyncTx }

var _ transport.WordSink = (*TXWriter)(nil)

// NewTXWriter creates a serial TXWriter with a buffered queue of size buf.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	send := func(p []byte) error {
		n, err := sp.Write(p)
		if err != nil {
			return err
		}
		if n != len(p) {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(p))
		}
		return nil
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendWord queues the ASCII form of v for asynchronous write (drops with
// ErrTxOverflow if the queue is full).
func (w *TXWriter) SendWord(v uint64) error {
	return w.base.Send(transport.Item{Payload: EncodeWord(v), After: metrics.IncUARTTx})
}

// SendRaw queues an already-encoded payload, e.g. a modem command.
func (w *TXWriter) SendRaw(p []byte) error {
	return w.base.Send(transport.Item{Payload: p})
}

// Close stops the writer and waits for pending goroutine exit.
func (w *TXWriter) Close() { w.base.Close() }
