package gs

import (
	"errors"
	"testing"

	"github.com/project-steve/gs-bridge/internal/word"
)

// wantReject asserts Translate fails with a ProtocolError carrying msg.
func wantReject(t *testing.T, raw, msg string) {
	t.Helper()
	words, err := Translate([]byte(raw))
	if err == nil {
		t.Fatalf("Translate(%s) accepted, words=%v", raw, words)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Translate(%s) err = %T %v, want *ProtocolError", raw, err, err)
	}
	if pe.Msg != msg {
		t.Fatalf("Translate(%s) msg = %q, want %q", raw, pe.Msg, msg)
	}
}

func wantWords(t *testing.T, raw string, want ...uint64) {
	t.Helper()
	words, err := Translate([]byte(raw))
	if err != nil {
		t.Fatalf("Translate(%s): %v", raw, err)
	}
	if len(words) != len(want) {
		t.Fatalf("Translate(%s) = %#x, want %#x", raw, words, want)
	}
	for i, w := range want {
		if words[i] != w {
			t.Fatalf("Translate(%s) word %d = %#x, want %#x", raw, i, words[i], w)
		}
	}
}

func TestTranslateControl(t *testing.T) {
	raw := `{"type":"C","forward":1,"backward":0,"left":0,"right":0,"speed":50,"priority_level":1}`
	wantWords(t, raw, 0x16421)
}

func TestTranslateControlAllFields(t *testing.T) {
	raw := `{"type":"C","forward":0,"backward":1,"left":1,"right":0,"speed":100,"priority_level":3}`
	c := word.Control{Backward: 1, Left: 1, Speed: 100, Priority: 3}
	wantWords(t, raw, c.Word())
}

func TestTranslateControlFloatTruncation(t *testing.T) {
	// In-range fractions truncate toward zero after the range check.
	raw := `{"type":"C","forward":1,"backward":0,"left":0,"right":0,"speed":50.9,"priority_level":1.7}`
	wantWords(t, raw, 0x16421)
}

func TestTranslatePoseInstruction(t *testing.T) {
	raw := `{"type":"P","instruction":9,"priority_level":2,"id":1445}`
	p := word.Pose{Instruction: 9, Priority: 2, ID: 1445}
	wantWords(t, raw, p.Word())
}

func TestTranslatePoseInstructionWinsOverActions(t *testing.T) {
	raw := `{"type":"P","instruction":4,"actions":[1,2,3],"priority_level":0,"id":7}`
	p := word.Pose{Instruction: 4, ID: 7}
	wantWords(t, raw, p.Word())
}

func TestTranslatePoseActions(t *testing.T) {
	// Out-of-range and non-numeric elements are skipped one by one.
	raw := `{"type":"P","actions":[1,99,"x",3,-2,15],"priority_level":1,"id":12}`
	mk := func(in uint8) uint64 {
		return word.Pose{Instruction: in, Priority: 1, ID: 12}.Word()
	}
	wantWords(t, raw, mk(1), mk(3), mk(15))

	raw = `{"type":"P","actions":[1,99,3],"priority_level":1,"id":12}`
	wantWords(t, raw, mk(1), mk(3))
}

func TestTranslatePoseActionsAllSkipped(t *testing.T) {
	wantWords(t, `{"type":"P","actions":[99,"x"],"priority_level":0,"id":0}`)
	wantWords(t, `{"type":"P","actions":[],"priority_level":0,"id":0}`)
}

func TestTranslateSystem(t *testing.T) {
	raw := `{"type":"S","instruction":5,"ac":1023,"priority_level":1,"id":2047,"instruction_specific":3735928559}`
	s := word.System{Instruction: 5, AuthCode: 1023, Priority: 1, ID: 2047, Specific: 0xDEADBEEF}
	wantWords(t, raw, s.Word())
}

func TestTranslateQuery(t *testing.T) {
	raw := `{"type":"Q","instruction":15,"report":1,"priority_level":3,"id":4095}`
	// id is capped at 2047 for Q/S commands.
	wantReject(t, raw, "bad Q fields")

	raw = `{"type":"Q","instruction":15,"report":1,"priority_level":3,"id":2047}`
	q := word.Query{Instruction: 15, Priority: 3, ID: 2047, ReportOn: 1}
	wantWords(t, raw, q.Word())
}

func TestTranslateRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		msg  string
	}{
		{"malformed json", `{not json`, "bad json"},
		{"array root", `[1,2,3]`, "missing type"},
		{"number root", `42`, "missing type"},
		{"no type field", `{"forward":1}`, "missing type"},
		{"numeric type", `{"type":7}`, "missing type"},
		{"unknown type", `{"type":"Z"}`, "unknown type"},
		{"lowercase type", `{"type":"c"}`, "unknown type"},

		{"C speed high", `{"type":"C","forward":0,"backward":0,"left":0,"right":0,"speed":150,"priority_level":0}`, "bad C fields"},
		{"C speed negative", `{"type":"C","forward":0,"backward":0,"left":0,"right":0,"speed":-1,"priority_level":0}`, "bad C fields"},
		{"C speed fraction above max", `{"type":"C","forward":0,"backward":0,"left":0,"right":0,"speed":100.5,"priority_level":0}`, "bad C fields"},
		{"C forward two", `{"type":"C","forward":2,"backward":0,"left":0,"right":0,"speed":0,"priority_level":0}`, "bad C fields"},
		{"C forward bool", `{"type":"C","forward":true,"backward":0,"left":0,"right":0,"speed":0,"priority_level":0}`, "bad C fields"},
		{"C missing speed", `{"type":"C","forward":0,"backward":0,"left":0,"right":0,"priority_level":0}`, "bad C fields"},
		{"C priority high", `{"type":"C","forward":0,"backward":0,"left":0,"right":0,"speed":0,"priority_level":4}`, "bad C fields"},

		{"P instruction high", `{"type":"P","instruction":16,"priority_level":0,"id":0}`, "P instruction out of range"},
		{"P instruction negative", `{"type":"P","instruction":-1,"priority_level":0,"id":0}`, "P instruction out of range"},
		{"P neither", `{"type":"P","priority_level":0,"id":0}`, "P requires instruction or actions[]"},
		{"P actions not array", `{"type":"P","actions":5,"priority_level":0,"id":0}`, "P requires instruction or actions[]"},
		{"P id high", `{"type":"P","instruction":1,"priority_level":0,"id":2048}`, "bad P fields"},
		{"P missing priority", `{"type":"P","instruction":1,"id":0}`, "bad P fields"},

		{"S ac high", `{"type":"S","instruction":0,"ac":1024,"priority_level":0,"id":0,"instruction_specific":0}`, "bad S fields"},
		{"S specific high", `{"type":"S","instruction":0,"ac":0,"priority_level":0,"id":0,"instruction_specific":4294967296}`, "bad S fields"},
		{"S missing specific", `{"type":"S","instruction":0,"ac":0,"priority_level":0,"id":0}`, "bad S fields"},

		{"Q report two", `{"type":"Q","instruction":0,"report":2,"priority_level":0,"id":0}`, "bad Q fields"},
		{"Q missing report", `{"type":"Q","instruction":0,"priority_level":0,"id":0}`, "bad Q fields"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wantReject(t, tc.raw, tc.msg)
		})
	}
}

func TestReportStatus(t *testing.T) {
	sr := word.StatusReport{Speed: 100, State: 1, Motor: 1, RobotID: 2, CurrPos: 0x7FFFFFFF}
	b, ok := Report(sr.Word())
	if !ok {
		t.Fatal("status report dropped")
	}
	want := `{"type":"SR","speed":100,"state":1,"motor":1,"robot_id":2,"curr_pos":2147483647}`
	if string(b) != want {
		t.Fatalf("Report = %s, want %s", b, want)
	}
}

func TestReportHealth(t *testing.T) {
	hr := word.HealthReport{Battery: 87, Signal: 42, Security: 3, NameID: 2748}
	b, ok := Report(hr.Word())
	if !ok {
		t.Fatal("health report dropped")
	}
	want := `{"type":"HR","battery":87,"signal":42,"security":3,"name_id":2748}`
	if string(b) != want {
		t.Fatalf("Report = %s, want %s", b, want)
	}
}

func TestReportAckRaw(t *testing.T) {
	v := uint64(0xDEADBEE7) // low bits select the ack discriminant
	b, ok := Report(v)
	if !ok {
		t.Fatal("ack dropped")
	}
	want := `{"type":"A","raw_u64":"3735928551"}`
	if string(b) != want {
		t.Fatalf("Report = %s, want %s", b, want)
	}
}

func TestReportHighPriorityRaw(t *testing.T) {
	b, ok := Report(8)
	if !ok {
		t.Fatal("high-priority word dropped")
	}
	want := `{"type":"HPR","raw_u64":"8"}`
	if string(b) != want {
		t.Fatalf("Report = %s, want %s", b, want)
	}
}

func TestReportUnknownDropped(t *testing.T) {
	for _, v := range []uint64{0, 1, 2, 3, 4, 9, 31, 0xFFE0} {
		if b, ok := Report(v); ok {
			t.Fatalf("Report(%#x) = %s, want drop", v, b)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	want := `{"type":"ERR","msg":"bad C fields"}`
	if got := string(ErrorMessage("bad C fields")); got != want {
		t.Fatalf("ErrorMessage = %s, want %s", got, want)
	}
}
