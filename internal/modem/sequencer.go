// Package modem drives an RN-42 style Bluetooth-serial modem between data
// passthrough and command mode using scripted, timing-based sequences. The
// modem never confirms a transition; every script is fire-and-forget and
// advances on settle deadlines alone.
package modem

import (
	"errors"
	"fmt"
	"time"

	"github.com/project-steve/gs-bridge/internal/logging"
	"github.com/project-steve/gs-bridge/internal/metrics"
)

// Command strings. The escape sequence must reach the modem with no line
// terminator; the modem distinguishes it from data by the surrounding guard
// interval.
const (
	escapeSeq = "$$$"
	exitCmd   = "---\r"
	killCmd   = "K,\r"

	// DefaultPeer is the paired controller's Bluetooth address.
	DefaultPeer = "004B1224B0A6"
)

// Default settle delays after each command write.
const (
	DefaultEnterSettle   = 500 * time.Millisecond
	DefaultConnectSettle = 1500 * time.Millisecond
	DefaultExitSettle    = 250 * time.Millisecond
	DefaultKillSettle    = 400 * time.Millisecond
)

// Timings are the settle delays applied after each command kind. Zero
// fields fall back to the defaults.
type Timings struct {
	Enter   time.Duration
	Connect time.Duration
	Exit    time.Duration
	Kill    time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Enter:   DefaultEnterSettle,
		Connect: DefaultConnectSettle,
		Exit:    DefaultExitSettle,
		Kill:    DefaultKillSettle,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.Enter > 0 {
		d.Enter = t.Enter
	}
	if t.Connect > 0 {
		d.Connect = t.Connect
	}
	if t.Exit > 0 {
		d.Exit = t.Exit
	}
	if t.Kill > 0 {
		d.Kill = t.Kill
	}
	return d
}

// Step is one scripted write plus the settle delay the modem needs before
// the next command may follow.
type Step struct {
	Payload []byte
	Settle  time.Duration
}

// Script is a named step sequence.
type Script struct {
	Kind  string
	Steps []Step
}

// Script kind labels.
const (
	KindConnect    = "connect"
	KindDisconnect = "disconnect"
)

// ConnectScript escapes to command mode, requests a connection and drops
// back to data mode. A non-empty peer selects C,<addr>; an empty peer
// issues a plain C, connecting to the modem's stored address.
func ConnectScript(peer string, t Timings) Script {
	t = t.withDefaults()
	connect := "C\r"
	if peer != "" {
		connect = "C," + peer + "\r"
	}
	return Script{
		Kind: KindConnect,
		Steps: []Step{
			{Payload: []byte(escapeSeq), Settle: t.Enter},
			{Payload: []byte(connect), Settle: t.Connect},
			{Payload: []byte(exitCmd), Settle: t.Exit},
		},
	}
}

// DisconnectScript escapes to command mode, kills the active link and drops
// back to data mode.
func DisconnectScript(t Timings) Script {
	t = t.withDefaults()
	return Script{
		Kind: KindDisconnect,
		Steps: []Step{
			{Payload: []byte(escapeSeq), Settle: t.Enter},
			{Payload: []byte(killCmd), Settle: t.Kill},
			{Payload: []byte(exitCmd), Settle: t.Exit},
		},
	}
}

// WriteFunc delivers one command payload to the serial device.
type WriteFunc func([]byte) error

// ErrBusy is returned by Start while a script is still in flight.
var ErrBusy = errors.New("modem: script in progress")

// Sequencer advances a script one step per settle deadline. The owning
// event loop arms a timer on the returned deadline and calls Advance when
// it fires; the sequencer itself never sleeps and never reads a reply.
type Sequencer struct {
	write    WriteFunc
	script   Script
	idx      int
	deadline time.Time
}

func NewSequencer(write WriteFunc) *Sequencer {
	return &Sequencer{write: write}
}

// Active reports whether a script is in flight.
func (s *Sequencer) Active() bool {
	return s.idx < len(s.script.Steps)
}

// Deadline returns the settle deadline of the in-flight step; the zero time
// when idle.
func (s *Sequencer) Deadline() time.Time {
	if !s.Active() {
		return time.Time{}
	}
	return s.deadline
}

// Start begins a script by writing its first step and returns the settle
// deadline for that step.
func (s *Sequencer) Start(sc Script, now time.Time) (time.Time, error) {
	if s.Active() {
		return time.Time{}, ErrBusy
	}
	if len(sc.Steps) == 0 {
		return time.Time{}, nil
	}
	metrics.IncModemScript(sc.Kind)
	logging.L().Info("modem_script", "kind", sc.Kind, "steps", len(sc.Steps))
	s.script = sc
	s.idx = 0
	return s.issue(now)
}

// Advance writes the next step once now has reached the settle deadline. It
// returns the next deadline and whether the script is still active. Calling
// it early is harmless; the current deadline is returned unchanged.
func (s *Sequencer) Advance(now time.Time) (time.Time, bool, error) {
	if !s.Active() {
		return time.Time{}, false, nil
	}
	if now.Before(s.deadline) {
		return s.deadline, true, nil
	}
	s.idx++
	if !s.Active() {
		logging.L().Info("modem_script_done", "kind", s.script.Kind)
		s.reset()
		return time.Time{}, false, nil
	}
	d, err := s.issue(now)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func (s *Sequencer) issue(now time.Time) (time.Time, error) {
	st := s.script.Steps[s.idx]
	if err := s.write(st.Payload); err != nil {
		kind, idx := s.script.Kind, s.idx
		s.reset()
		metrics.IncError(metrics.ErrModemWrite)
		return time.Time{}, fmt.Errorf("modem %s step %d: %w", kind, idx, err)
	}
	metrics.IncModemStep()
	logging.L().Debug("modem_step", "kind", s.script.Kind, "step", s.idx, "settle", st.Settle)
	s.deadline = now.Add(st.Settle)
	return s.deadline, nil
}

func (s *Sequencer) reset() {
	s.script = Script{}
	s.idx = 0
	s.deadline = time.Time{}
}

// Run executes a script synchronously, sleeping through each settle
// interval. It serves teardown paths that run after the event loop has
// exited. A nil sleep uses time.Sleep.
func Run(sc Script, write WriteFunc, sleep func(time.Duration)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	if len(sc.Steps) == 0 {
		return nil
	}
	metrics.IncModemScript(sc.Kind)
	logging.L().Info("modem_script", "kind", sc.Kind, "steps", len(sc.Steps))
	for i, st := range sc.Steps {
		if err := write(st.Payload); err != nil {
			metrics.IncError(metrics.ErrModemWrite)
			return fmt.Errorf("modem %s step %d: %w", sc.Kind, i, err)
		}
		metrics.IncModemStep()
		sleep(st.Settle)
	}
	logging.L().Info("modem_script_done", "kind", sc.Kind)
	return nil
}
