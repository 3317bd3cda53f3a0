package gs

import (
	"encoding/json"
	"strconv"

	"github.com/project-steve/gs-bridge/internal/word"
)

// Inbound command type strings.
const (
	TypeControl = "C"
	TypePose    = "P"
	TypeSystem  = "S"
	TypeQuery   = "Q"
)

// ProtocolError rejects a command. Msg is relayed verbatim to the client in
// an ERR message; the session stays open.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "gs: " + e.Msg }

func protoErr(msg string) *ProtocolError { return &ProtocolError{Msg: msg} }

// numField reads a numeric field, rejecting missing, non-numeric and
// out-of-range values. In-range fractions truncate toward zero.
func numField(obj map[string]any, key string, min, max float64) (int, bool) {
	f, ok := obj[key].(float64)
	if !ok || f < min || f > max {
		return 0, false
	}
	return int(f), true
}

func u32Field(obj map[string]any, key string) (uint32, bool) {
	f, ok := obj[key].(float64)
	if !ok || f < 0 || f > 4294967295 {
		return 0, false
	}
	return uint32(f), true
}

// Translate validates one inbound command message and returns the
// instruction words to transmit, in order. All failures are *ProtocolError;
// a rejected command produces no words at all (no partial sends). A Pose
// actions list may legitimately produce zero words when every element is
// skipped.
func Translate(raw []byte) ([]uint64, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, protoErr("bad json")
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, protoErr("missing type")
	}
	t, ok := obj["type"].(string)
	if !ok {
		return nil, protoErr("missing type")
	}

	switch t {
	case TypeControl:
		f, ok1 := numField(obj, "forward", 0, 1)
		b, ok2 := numField(obj, "backward", 0, 1)
		l, ok3 := numField(obj, "left", 0, 1)
		r, ok4 := numField(obj, "right", 0, 1)
		speed, ok5 := numField(obj, "speed", 0, 100)
		pl, ok6 := numField(obj, "priority_level", 0, 3)
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
			return nil, protoErr("bad C fields")
		}
		c := word.Control{
			Forward:  uint8(f),
			Backward: uint8(b),
			Left:     uint8(l),
			Right:    uint8(r),
			Speed:    uint8(speed),
			Priority: uint8(pl),
		}
		return []uint64{c.Word()}, nil

	case TypePose:
		pl, ok1 := numField(obj, "priority_level", 0, 3)
		id, ok2 := numField(obj, "id", 0, 2047)
		if !ok1 || !ok2 {
			return nil, protoErr("bad P fields")
		}
		// Either a single instruction or an actions list. A numeric
		// instruction wins; a non-numeric one falls through to actions.
		if f, isNum := obj["instruction"].(float64); isNum {
			if f < 0 || f > 15 {
				return nil, protoErr("P instruction out of range")
			}
			p := word.Pose{Instruction: uint8(f), Priority: uint8(pl), ID: uint16(id)}
			return []uint64{p.Word()}, nil
		}
		if actions, isArr := obj["actions"].([]any); isArr {
			words := make([]uint64, 0, len(actions))
			for _, a := range actions {
				f, isNum := a.(float64)
				if !isNum || f < 0 || f > 15 {
					continue // malformed elements are skipped individually
				}
				p := word.Pose{Instruction: uint8(f), Priority: uint8(pl), ID: uint16(id)}
				words = append(words, p.Word())
			}
			return words, nil
		}
		return nil, protoErr("P requires instruction or actions[]")

	case TypeSystem:
		instr, ok1 := numField(obj, "instruction", 0, 15)
		ac, ok2 := numField(obj, "ac", 0, 1023)
		pl, ok3 := numField(obj, "priority_level", 0, 3)
		id, ok4 := numField(obj, "id", 0, 2047)
		spec, ok5 := u32Field(obj, "instruction_specific")
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			return nil, protoErr("bad S fields")
		}
		s := word.System{
			Instruction: uint8(instr),
			AuthCode:    uint16(ac),
			Priority:    uint8(pl),
			ID:          uint16(id),
			Specific:    spec,
		}
		return []uint64{s.Word()}, nil

	case TypeQuery:
		instr, ok1 := numField(obj, "instruction", 0, 15)
		report, ok2 := numField(obj, "report", 0, 1)
		pl, ok3 := numField(obj, "priority_level", 0, 3)
		id, ok4 := numField(obj, "id", 0, 2047)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, protoErr("bad Q fields")
		}
		q := word.Query{
			Instruction: uint8(instr),
			Priority:    uint8(pl),
			ID:          uint16(id),
			ReportOn:    uint8(report),
		}
		return []uint64{q.Word()}, nil
	}
	return nil, protoErr("unknown type")
}

type statusReport struct {
	Type    string `json:"type"`
	Speed   uint8  `json:"speed"`
	State   uint8  `json:"state"`
	Motor   uint8  `json:"motor"`
	RobotID uint8  `json:"robot_id"`
	CurrPos uint32 `json:"curr_pos"`
}

type healthReport struct {
	Type     string `json:"type"`
	Battery  uint8  `json:"battery"`
	Signal   uint8  `json:"signal"`
	Security uint8  `json:"security"`
	NameID   uint16 `json:"name_id"`
}

type rawReport struct {
	Type   string `json:"type"`
	RawU64 string `json:"raw_u64"`
}

type errMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// Report renders a decoded instruction word as the telemetry JSON sent to
// the client. Ack and high-priority words are forwarded with the raw value
// as a decimal string since their layouts are not final. Unknown
// discriminants return ok=false and are dropped.
func Report(v uint64) ([]byte, bool) {
	switch word.TypeOf(v) {
	case word.TypeStatusReport:
		sr, err := word.UnpackStatusReport(v)
		if err != nil {
			return nil, false
		}
		b, _ := json.Marshal(statusReport{
			Type:    "SR",
			Speed:   sr.Speed,
			State:   sr.State,
			Motor:   sr.Motor,
			RobotID: sr.RobotID,
			CurrPos: sr.CurrPos,
		})
		return b, true
	case word.TypeHealthReport:
		hr, err := word.UnpackHealthReport(v)
		if err != nil {
			return nil, false
		}
		b, _ := json.Marshal(healthReport{
			Type:     "HR",
			Battery:  hr.Battery,
			Signal:   hr.Signal,
			Security: hr.Security,
			NameID:   hr.NameID,
		})
		return b, true
	case word.TypeAck:
		b, _ := json.Marshal(rawReport{Type: "A", RawU64: strconv.FormatUint(v, 10)})
		return b, true
	case word.TypeHighPriority:
		b, _ := json.Marshal(rawReport{Type: "HPR", RawU64: strconv.FormatUint(v, 10)})
		return b, true
	}
	return nil, false
}

// ErrorMessage renders the ERR response for a rejected command.
func ErrorMessage(msg string) []byte {
	b, _ := json.Marshal(errMessage{Type: "ERR", Msg: msg})
	return b
}
