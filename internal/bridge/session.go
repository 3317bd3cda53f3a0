package bridge

import (
	"log/slog"
	"net"
	"sync"

	"github.com/project-steve/gs-bridge/internal/metrics"
)

// session is the single active control-channel client. A new session only
// ever starts after the previous one is fully closed; there is no fan-out.
type session struct {
	conn      net.Conn
	out       chan []byte // encoded JSON payloads, framed by the writer
	closed    chan struct{}
	closeOnce sync.Once
	id        uint64
	logger    *slog.Logger
}

// close signals the session is finished (idempotent).
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// send queues one outbound message, dropping it when the client's queue is
// full. A slow viewer loses telemetry; it never stalls the core.
func (s *session) send(msg []byte) {
	select {
	case s.out <- msg:
	default:
		metrics.IncCtlDrop()
	}
}

type eventKind int

const (
	evAttach eventKind = iota
	evMessage
	evDetach
)

// sessionEvent carries session lifecycle and inbound messages to the core
// over one channel, preserving arrival order.
type sessionEvent struct {
	kind eventKind
	sess *session
	msg  []byte
}
