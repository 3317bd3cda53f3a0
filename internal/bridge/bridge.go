// Package bridge owns both transports and the event-loop core between
// them: a single-client control channel speaking length-prefixed JSON, and
// the serial radio link carrying instruction words.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/project-steve/gs-bridge/internal/gs"
	"github.com/project-steve/gs-bridge/internal/logging"
	"github.com/project-steve/gs-bridge/internal/metrics"
	"github.com/project-steve/gs-bridge/internal/modem"
)

// WordTx is the serial transmit side used by the core: encoded instruction
// words and raw modem command payloads share one writer.
type WordTx interface {
	SendWord(v uint64) error
	SendRaw(p []byte) error
}

// Bridge accepts one control-channel client at a time and runs the core
// loop translating between that client and the serial link.
type Bridge struct {
	mu      sync.RWMutex
	network string // "unix" or "tcp"
	addr    string

	codec gs.Codec
	tx    WordTx

	peer        string
	timings     modem.Timings
	autoConnect bool

	serialRx   <-chan []byte
	events     chan sessionEvent
	outBufSize int
	socketMode fs.FileMode

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	curMu     sync.Mutex
	cur       *session
	wg        sync.WaitGroup
	logger    *slog.Logger
	nextConnID,
	totalAccepted,
	totalDisconnected atomic.Uint64

	// Core state, owned exclusively by the Run goroutine.
	seq              *modem.Sequencer
	sess             *session
	connectAttempted bool
}

const (
	defaultOutBufSize   = 64
	defaultEventBufSize = 64
	defaultSocketMode   = fs.FileMode(0o660)
)

type Option func(*Bridge)

// New builds a Bridge; wire the serial side with WithTX and WithSerialRX
// before calling Serve and Run.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		network:     "unix",
		addr:        "/tmp/gs_bridge.sock",
		peer:        modem.DefaultPeer,
		timings:     modem.DefaultTimings(),
		autoConnect: true,
		events:      make(chan sessionEvent, defaultEventBufSize),
		outBufSize:  defaultOutBufSize,
		socketMode:  defaultSocketMode,
		readyCh:     make(chan struct{}),
		errCh:       make(chan error, 1),
		logger:      logging.L(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func WithListen(network, addr string) Option {
	return func(b *Bridge) { b.network, b.addr = network, addr }
}

func WithTX(tx WordTx) Option { return func(b *Bridge) { b.tx = tx } }

func WithSerialRX(ch <-chan []byte) Option { return func(b *Bridge) { b.serialRx = ch } }

func WithPeer(peer string) Option { return func(b *Bridge) { b.peer = peer } }

func WithTimings(t modem.Timings) Option { return func(b *Bridge) { b.timings = t } }

// WithAutoConnect controls whether the modem connect script fires on the
// first client connection.
func WithAutoConnect(on bool) Option { return func(b *Bridge) { b.autoConnect = on } }

func WithOutBufSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.outBufSize = n
		}
	}
}

func WithEventBufSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.events = make(chan sessionEvent, n)
		}
	}
}

func WithSocketMode(m fs.FileMode) Option { return func(b *Bridge) { b.socketMode = m } }

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func (b *Bridge) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addr
}

func (b *Bridge) setAddr(a string) { b.mu.Lock(); b.addr = a; b.mu.Unlock() }

// Ready is closed once the listener is bound.
func (b *Bridge) Ready() <-chan struct{} { return b.readyCh }

func (b *Bridge) Errors() <-chan error { return b.errCh }

func (b *Bridge) setError(err error) {
	if err == nil {
		return
	}
	b.lastErrMu.Lock()
	b.lastErr = err
	b.lastErrMu.Unlock()
	select {
	case b.errCh <- err:
	default:
	}
}

func (b *Bridge) LastError() error {
	b.lastErrMu.Lock()
	defer b.lastErrMu.Unlock()
	return b.lastErr
}

// Serve binds the control-channel listener and accepts clients one at a
// time: the next accept only happens after the previous session closed.
func (b *Bridge) Serve(ctx context.Context) error {
	b.mu.RLock()
	network, addr := b.network, b.addr
	b.mu.RUnlock()
	if network == "unix" {
		// A stale socket file from an unclean exit blocks the bind.
		_ = os.Remove(addr)
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		b.setError(wrap)
		return wrap
	}
	b.setAddr(ln.Addr().String())
	if network == "unix" {
		if err := os.Chmod(ln.Addr().String(), b.socketMode); err != nil {
			b.logger.Warn("socket_chmod_failed", "error", err)
		}
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()
	b.readyOnce.Do(func() { close(b.readyCh) })
	b.logger.Info("ctl_listen", "network", network, "addr", b.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := b.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, hands it to the core and waits
// for the session to end before returning.
func (b *Bridge) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		b.setError(wrap)
		return wrap
	}
	b.totalAccepted.Add(1)
	metrics.IncConnect()
	connID := b.nextConnID.Add(1)
	connLogger := b.logger.With("conn_id", connID)
	if ra := conn.RemoteAddr(); ra != nil && ra.String() != "" && ra.String() != "@" {
		connLogger = connLogger.With("remote", ra.String())
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	if pid, uid, ok := peerCred(conn); ok {
		connLogger.Info("client_connected", "pid", pid, "uid", uid)
	} else {
		connLogger.Info("client_connected")
	}

	sess := &session{
		conn:   conn,
		out:    make(chan []byte, b.outBufSize),
		closed: make(chan struct{}),
		id:     connID,
		logger: connLogger,
	}
	b.curMu.Lock()
	b.cur = sess
	b.curMu.Unlock()

	select {
	case b.events <- sessionEvent{kind: evAttach, sess: sess}:
	case <-ctx.Done():
		_ = conn.Close()
		return context.Canceled
	}
	b.startWriter(ctx, sess)
	b.startReader(ctx, sess)

	// One client at a time: block here until the session is over.
	select {
	case <-sess.closed:
	case <-ctx.Done():
		_ = conn.Close()
		return context.Canceled
	}
	b.curMu.Lock()
	if b.cur == sess {
		b.cur = nil
	}
	b.curMu.Unlock()
	return nil
}

// Shutdown closes the listener and the active session and waits for all
// goroutines to finish. The unix socket file is unlinked by the listener
// close.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	ln := b.listener
	b.listener = nil
	b.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	b.curMu.Lock()
	if b.cur != nil {
		_ = b.cur.conn.Close()
		b.cur.close()
		b.cur = nil
	}
	b.curMu.Unlock()
	done := make(chan struct{})
	go func() { b.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		b.logger.Info("shutdown_summary",
			"accepted", b.totalAccepted.Load(),
			"disconnected", b.totalDisconnected.Load())
		return nil
	}
}
