package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/project-steve/gs-bridge/internal/gs"
	"github.com/project-steve/gs-bridge/internal/metrics"
	"github.com/project-steve/gs-bridge/internal/modem"
	"github.com/project-steve/gs-bridge/internal/uart"
)

// Run is the bridging core. One goroutine owns the frame decoder, the
// modem sequencer and the attached session, so none of that state needs
// locking. Everything reaches it over channels: serial chunks, session
// events and the modem settle timer.
//
// While a modem script is in flight the event channel is left unserviced.
// Inbound commands queue up there and drain once the script finishes, so
// no instruction word can land between command-mode writes.
func (b *Bridge) Run(ctx context.Context) error {
	if b.tx == nil {
		return errors.New("bridge: no transmitter wired")
	}
	b.seq = modem.NewSequencer(b.tx.SendRaw)
	var dec uart.Decoder
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	serialRx := b.serialRx
	for {
		events := b.events
		if b.seq.Active() {
			events = nil
		}
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-serialRx:
			if !ok {
				b.logger.Warn("serial_rx_closed")
				serialRx = nil
				continue
			}
			dec.FeedBytes(chunk, b.forwardTelemetry)
		case ev := <-events:
			b.handleEvent(ev, timer)
		case now := <-timer.C:
			b.advanceModem(now, timer)
		}
	}
}

func (b *Bridge) handleEvent(ev sessionEvent, timer *time.Timer) {
	switch ev.kind {
	case evAttach:
		b.sess = ev.sess
		metrics.SetClients(1)
		if b.autoConnect && !b.connectAttempted {
			// The radio link is established once per process lifetime, on
			// the first client, and survives client turnover.
			b.connectAttempted = true
			deadline, err := b.seq.Start(modem.ConnectScript(b.peer, b.timings), time.Now())
			if err != nil {
				b.logger.Error("modem_connect_failed", "error", err)
				b.setError(err)
			} else if !deadline.IsZero() {
				timer.Reset(time.Until(deadline))
			}
		}
	case evMessage:
		if ev.sess != b.sess {
			return
		}
		b.handleMessage(ev.sess, ev.msg)
	case evDetach:
		if ev.sess != b.sess {
			return
		}
		b.sess = nil
		metrics.SetClients(0)
	}
}

// handleMessage translates one inbound JSON command into instruction words
// and queues them for the radio. A malformed command gets an ERR reply and
// leaves the session up.
func (b *Bridge) handleMessage(sess *session, msg []byte) {
	words, err := gs.Translate(msg)
	if err != nil {
		var pe *gs.ProtocolError
		if errors.As(err, &pe) {
			metrics.IncProtocolError()
			sess.send(gs.ErrorMessage(pe.Msg))
			sess.logger.Warn("ctl_protocol_error", "reason", pe.Msg)
			return
		}
		sess.logger.Warn("ctl_translate_error", "error", err)
		return
	}
	for _, w := range words {
		if err := b.tx.SendWord(w); err != nil {
			sess.logger.Warn("serial_enqueue_failed", "error", err)
		}
	}
}

// forwardTelemetry turns one decoded radio word into its JSON report and
// queues it for the attached client. Words arriving with no client are
// counted and dropped; unknown discriminants are dropped silently.
func (b *Bridge) forwardTelemetry(v uint64) {
	if b.sess == nil {
		metrics.IncTelemetryDrop()
		return
	}
	msg, ok := gs.Report(v)
	if !ok {
		b.logger.Debug("telemetry_unknown_type", "word", fmt.Sprintf("%#x", v))
		return
	}
	b.sess.send(msg)
}

func (b *Bridge) advanceModem(now time.Time, timer *time.Timer) {
	next, active, err := b.seq.Advance(now)
	if err != nil {
		b.logger.Error("modem_script_failed", "error", err)
		b.setError(err)
		return
	}
	if active {
		timer.Reset(time.Until(next))
	}
}
