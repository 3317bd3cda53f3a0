package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/project-steve/gs-bridge/internal/metrics"
	"github.com/project-steve/gs-bridge/internal/modem"
	"github.com/project-steve/gs-bridge/internal/uart"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = uart.Open

// portRef is the shared handle to the current serial port. The RX pump
// swaps in a fresh port after a reopen; the TX writer and the shutdown
// script keep writing through the same ref.
type portRef struct {
	mu sync.Mutex
	p  uart.Port
}

func (r *portRef) get() uart.Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p
}

func (r *portRef) set(p uart.Port) {
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
}

func (r *portRef) Read(b []byte) (int, error)  { return r.get().Read(b) }
func (r *portRef) Write(b []byte) (int, error) { return r.get().Write(b) }
func (r *portRef) Close() error                { return r.get().Close() }

// initSerial opens the radio port and starts the RX pump. It returns the
// word transmitter, the raw chunk channel feeding the core, a direct write
// func for post-loop modem scripts, and a cleanup.
func initSerial(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (*uart.TXWriter, <-chan []byte, modem.WriteFunc, func(), error) {
	sp, err := openSerialPort(cfg.device, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, nil, nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.device, "baud", cfg.baud)
	ref := &portRef{p: sp}
	w := uart.NewTXWriter(ctx, ref, txQueueSize)
	rx := make(chan []byte, rxChanDepth)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(rx)
		defer l.Info("serial_rx_end")
		runPump(ctx, ref, rx, cfg, l)
	}()
	rawWrite := func(p []byte) error {
		_, werr := ref.Write(p)
		return werr
	}
	cleanup := func() { _ = ref.Close(); w.Close() }
	return w, rx, rawWrite, cleanup, nil
}

// runPump reads the port into fixed-size chunks and hands them to the core.
// The send blocks when the core is busy; bytes are never reordered or
// dropped here. A vanished device triggers a close/reopen cycle instead of
// ending the pump.
func runPump(ctx context.Context, ref *portRef, rx chan<- []byte, cfg *appConfig, l *slog.Logger) {
	buf := make([]byte, serialReadBufSize)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := ref.Read(buf)
		if n > 0 {
			metrics.AddRxBytes(n)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case rx <- chunk:
			case <-ctx.Done():
				return
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil { // shutting down
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				if !reopenPort(ctx, ref, cfg, l) {
					return
				}
				backoff = rxBackoffMin
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // ignore transient EOF
			}
			metrics.IncError(metrics.ErrSerialRead)
			l.Warn("serial_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}

// reopenPort retries opening the device until it succeeds or the context
// ends. It reports whether a fresh port was installed in ref.
func reopenPort(ctx context.Context, ref *portRef, cfg *appConfig, l *slog.Logger) bool {
	_ = ref.Close()
	backoff := reopenBackoffMin
	for {
		if ctx.Err() != nil {
			return false
		}
		sp, err := openSerialPort(cfg.device, cfg.baud, cfg.serialReadTO)
		if err == nil {
			ref.set(sp)
			l.Info("serial_reopen", "device", cfg.device)
			return true
		}
		metrics.IncError(metrics.ErrSerialRead)
		l.Warn("serial_reopen_failed", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > reopenBackoffMax {
			backoff = reopenBackoffMax
		}
	}
}
