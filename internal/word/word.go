package word

import (
	"errors"
	"fmt"
)

// Type is the message discriminant carried in the low 5 bits of every
// instruction word.
type Type uint8

const (
	TypeControl      Type = 1
	TypePose         Type = 2
	TypeSystem       Type = 3
	TypeQuery        Type = 4
	TypeStatusReport Type = 5
	TypeHealthReport Type = 6
	TypeAck          Type = 7
	TypeHighPriority Type = 8
)

const typeBits = 5

// ErrTypeMismatch is returned by Unpack* when the discriminant in the word
// does not match the expected type.
var ErrTypeMismatch = errors.New("word: type mismatch")

func (t Type) String() string {
	switch t {
	case TypeControl:
		return "control"
	case TypePose:
		return "pose"
	case TypeSystem:
		return "system"
	case TypeQuery:
		return "query"
	case TypeStatusReport:
		return "status_report"
	case TypeHealthReport:
		return "health_report"
	case TypeAck:
		return "ack"
	case TypeHighPriority:
		return "high_priority_report"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// TypeOf extracts the discriminant from a word.
func TypeOf(w uint64) Type { return Type(w & (1<<typeBits - 1)) }

// put masks v to width bits and positions it at off.
func put(v uint64, off, width uint) uint64 { return (v & (1<<width - 1)) << off }

// get extracts width bits starting at off.
func get(w uint64, off, width uint) uint64 { return (w >> off) & (1<<width - 1) }

func checkType(w uint64, want Type) error {
	if got := TypeOf(w); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, got, want)
	}
	return nil
}

// Control is a drive command: four direction bits, a 7-bit speed and a
// 2-bit priority.
type Control struct {
	Forward  uint8
	Backward uint8
	Left     uint8
	Right    uint8
	Speed    uint8
	Priority uint8
}

func (c Control) Word() uint64 {
	w := uint64(TypeControl)
	w |= put(uint64(c.Forward), 5, 1)
	w |= put(uint64(c.Backward), 6, 1)
	w |= put(uint64(c.Left), 7, 1)
	w |= put(uint64(c.Right), 8, 1)
	w |= put(uint64(c.Speed), 9, 7)
	w |= put(uint64(c.Priority), 16, 2)
	return w
}

func UnpackControl(w uint64) (Control, error) {
	if err := checkType(w, TypeControl); err != nil {
		return Control{}, err
	}
	return Control{
		Forward:  uint8(get(w, 5, 1)),
		Backward: uint8(get(w, 6, 1)),
		Left:     uint8(get(w, 7, 1)),
		Right:    uint8(get(w, 8, 1)),
		Speed:    uint8(get(w, 9, 7)),
		Priority: uint8(get(w, 16, 2)),
	}, nil
}

// Pose carries one 4-bit pose instruction with a command id.
type Pose struct {
	Instruction uint8
	Priority    uint8
	ID          uint16
}

func (p Pose) Word() uint64 {
	w := uint64(TypePose)
	w |= put(uint64(p.Instruction), 5, 4)
	w |= put(uint64(p.Priority), 9, 2)
	w |= put(uint64(p.ID), 11, 12)
	return w
}

func UnpackPose(w uint64) (Pose, error) {
	if err := checkType(w, TypePose); err != nil {
		return Pose{}, err
	}
	return Pose{
		Instruction: uint8(get(w, 5, 4)),
		Priority:    uint8(get(w, 9, 2)),
		ID:          uint16(get(w, 11, 12)),
	}, nil
}

// System is an administrative command authenticated by a 10-bit code, with
// a free-form 32-bit argument in the upper half of the word.
type System struct {
	Instruction uint8
	AuthCode    uint16
	Priority    uint8
	ID          uint16
	Specific    uint32
}

func (s System) Word() uint64 {
	w := uint64(TypeSystem)
	w |= put(uint64(s.Instruction), 5, 4)
	w |= put(uint64(s.AuthCode), 9, 10)
	w |= put(uint64(s.Priority), 19, 2)
	w |= put(uint64(s.ID), 21, 11)
	w |= put(uint64(s.Specific), 32, 32)
	return w
}

func UnpackSystem(w uint64) (System, error) {
	if err := checkType(w, TypeSystem); err != nil {
		return System{}, err
	}
	return System{
		Instruction: uint8(get(w, 5, 4)),
		AuthCode:    uint16(get(w, 9, 10)),
		Priority:    uint8(get(w, 19, 2)),
		ID:          uint16(get(w, 21, 11)),
		Specific:    uint32(get(w, 32, 32)),
	}, nil
}

// Query requests a report from the controller; ReportOn toggles periodic
// reporting.
type Query struct {
	Instruction uint8
	Priority    uint8
	ID          uint16
	ReportOn    uint8
}

func (q Query) Word() uint64 {
	w := uint64(TypeQuery)
	w |= put(uint64(q.Instruction), 5, 4)
	w |= put(uint64(q.Priority), 9, 2)
	w |= put(uint64(q.ID), 11, 12)
	w |= put(uint64(q.ReportOn), 23, 1)
	return w
}

func UnpackQuery(w uint64) (Query, error) {
	if err := checkType(w, TypeQuery); err != nil {
		return Query{}, err
	}
	return Query{
		Instruction: uint8(get(w, 5, 4)),
		Priority:    uint8(get(w, 9, 2)),
		ID:          uint16(get(w, 11, 12)),
		ReportOn:    uint8(get(w, 23, 1)),
	}, nil
}

// StatusReport is telemetry from the controller: current speed, drive
// state, motor fault bit and a 31-bit position.
type StatusReport struct {
	Speed   uint8
	State   uint8
	Motor   uint8
	RobotID uint8
	CurrPos uint32
}

func (r StatusReport) Word() uint64 {
	w := uint64(TypeStatusReport)
	w |= put(uint64(r.Speed), 5, 7)
	w |= put(uint64(r.State), 12, 1)
	w |= put(uint64(r.Motor), 13, 1)
	w |= put(uint64(r.RobotID), 14, 2)
	w |= put(uint64(r.CurrPos), 16, 31)
	return w
}

func UnpackStatusReport(w uint64) (StatusReport, error) {
	if err := checkType(w, TypeStatusReport); err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		Speed:   uint8(get(w, 5, 7)),
		State:   uint8(get(w, 12, 1)),
		Motor:   uint8(get(w, 13, 1)),
		RobotID: uint8(get(w, 14, 2)),
		CurrPos: uint32(get(w, 16, 31)),
	}, nil
}

// HealthReport is periodic link/battery telemetry.
type HealthReport struct {
	Battery  uint8
	Signal   uint8
	Security uint8
	NameID   uint16
}

func (r HealthReport) Word() uint64 {
	w := uint64(TypeHealthReport)
	w |= put(uint64(r.Battery), 5, 7)
	w |= put(uint64(r.Signal), 12, 6)
	w |= put(uint64(r.Security), 18, 2)
	w |= put(uint64(r.NameID), 20, 12)
	return w
}

func UnpackHealthReport(w uint64) (HealthReport, error) {
	if err := checkType(w, TypeHealthReport); err != nil {
		return HealthReport{}, err
	}
	return HealthReport{
		Battery:  uint8(get(w, 5, 7)),
		Signal:   uint8(get(w, 12, 6)),
		Security: uint8(get(w, 18, 2)),
		NameID:   uint16(get(w, 20, 12)),
	}, nil
}
