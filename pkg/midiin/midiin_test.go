package midiin

import (
	"bytes"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/notestack"
)

func newTestRouter() (*Router, *cv.Engine) {
	stacks := notestack.NewBank()
	engine := cv.New(stacks)
	return NewRouter(engine, stacks, cv.AnyChannel), engine
}

func TestRouterNotes(t *testing.T) {
	r, e := newTestRouter()

	r.Handle(midi.NoteOn(0, 60, 100), 0)
	r.Handle(midi.NoteOn(0, 64, 100), 0)

	codes := e.Codes()
	if codes[0] != 1667 {
		t.Errorf("output 1 code = %d, want 1667", codes[0])
	}
	if codes[1] != 1500 {
		t.Errorf("output 2 code = %d, want 1500", codes[1])
	}

	r.Handle(midi.NoteOff(0, 64), 0)
	if got := e.Codes()[0]; got != 1500 {
		t.Errorf("output 1 code after release = %d, want 1500", got)
	}
}

func TestRouterPitchBendReachesNotesAndBendOutputs(t *testing.T) {
	r, e := newTestRouter()
	e.Reconfigure(3, cv.ParamSource, cv.SrcPitchBend, 0)

	r.Handle(midi.NoteOn(0, 60, 100), 0)
	r.Handle(midi.Pitchbend(0, 4096), 0)

	codes := e.Codes()
	// one semitone up from C3
	if codes[0] != 1542 {
		t.Errorf("note code = %d, want 1542", codes[0])
	}
	if codes[3] != 1875 {
		t.Errorf("bend code = %d, want 1875", codes[3])
	}
}

func TestRouterControllers(t *testing.T) {
	r, e := newTestRouter()
	e.Reconfigure(0, cv.ParamSource, cv.SrcController, 1)
	e.Reconfigure(1, cv.ParamSource, cv.SrcAftertouch, 0)

	r.Handle(midi.ControlChange(3, 1, 127), 0)
	r.Handle(midi.AfterTouch(3, 64), 0)

	codes := e.Codes()
	if codes[0] != 2500 {
		t.Errorf("cc code = %d, want 2500", codes[0])
	}
	if codes[1] != 1260 {
		t.Errorf("aftertouch code = %d, want 1260", codes[1])
	}
}

func TestRouterNRPN(t *testing.T) {
	r, e := newTestRouter()
	var got []Request
	r.OnReconfigure = func(req Request, changed bool) {
		if changed {
			got = append(got, req)
		}
	}

	for _, msg := range []midi.Message{
		midi.ControlChange(0, CCNRPNMSB, OutputBase+1),
		midi.ControlChange(0, CCNRPNLSB, byte(cv.ParamSource)),
		midi.ControlChange(0, CCDataEntryMSB, cv.SrcController),
		midi.ControlChange(0, CCDataEntryLSB, 74),
	} {
		r.Handle(msg, 0)
	}

	want := cv.ControllerSource{Channel: cv.AnyChannel, Controller: 74, Volts: cv.DefaultCCVolts}
	if src := e.Source(1); src != want {
		t.Errorf("Source(1) = %#v, want %#v", src, want)
	}
	if len(got) != 1 || got[0].Output != 1 {
		t.Errorf("OnReconfigure requests = %v, want one for output 1", got)
	}

	// the data entry controllers never reach CC outputs
	e.Reconfigure(2, cv.ParamSource, cv.SrcController, CCDataEntryMSB)
	r.Handle(midi.ControlChange(0, CCDataEntryMSB, 127), 0)
	if e.Dirty(2) {
		t.Error("data entry routed to a CC output")
	}
}

func TestRouterSettlesFixedLevels(t *testing.T) {
	r, e := newTestRouter()

	if !r.Apply(Request{Output: 2, Param: cv.ParamSource, Hi: cv.SrcTestVoltage}) {
		t.Fatal("Apply(test voltage) = false")
	}
	if got := e.Codes()[2]; got != 500 || !e.Dirty(2) {
		t.Errorf("test output code = %d pending=%v, want 500 pending", got, e.Dirty(2))
	}
	r.Apply(Request{Output: 2, Param: cv.ParamVolts, Lo: 4})
	if got := e.Codes()[2]; got != 2000 {
		t.Errorf("test output code after volts = %d, want 2000", got)
	}

	r.Apply(Request{Output: 3, Param: cv.ParamSource, Hi: cv.SrcPitchBend})
	if got := e.Codes()[3]; got != 1250 {
		t.Errorf("bend output code = %d, want centre 1250", got)
	}

	// note outputs wait for notes
	r.Apply(Request{Output: 0, Param: cv.ParamTranspose, Lo: 70})
	if e.Dirty(0) {
		t.Error("transpose wrote to a note output")
	}
}

func TestNRPNDecoder(t *testing.T) {
	tests := []struct {
		name string
		ccs  [][2]uint8
		ok   bool
		want Request
	}{
		{
			name: "complete",
			ccs:  [][2]uint8{{CCNRPNMSB, OutputBase + 3}, {CCNRPNLSB, 3}, {CCDataEntryMSB, 0}, {CCDataEntryLSB, 8}},
			ok:   true,
			want: Request{Output: 3, Param: cv.ParamVolts, Hi: 0, Lo: 8},
		},
		{
			name: "output out of range",
			ccs:  [][2]uint8{{CCNRPNMSB, OutputBase + cv.NumOutputs}, {CCNRPNLSB, 3}, {CCDataEntryMSB, 0}, {CCDataEntryLSB, 8}},
		},
		{
			name: "missing data MSB",
			ccs:  [][2]uint8{{CCNRPNMSB, OutputBase}, {CCNRPNLSB, 3}, {CCDataEntryLSB, 8}},
		},
		{
			name: "RPN deselects",
			ccs:  [][2]uint8{{CCNRPNMSB, OutputBase}, {CCNRPNLSB, 3}, {CCRPNMSB, 0}, {CCDataEntryMSB, 0}, {CCDataEntryLSB, 8}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewNRPNDecoder(cv.AnyChannel)
			var req Request
			var ok bool
			for _, c := range tt.ccs {
				req, ok = d.Control(0, c[0], c[1])
			}
			if ok != tt.ok {
				t.Fatalf("Control() ok = %v, want %v", ok, tt.ok)
			}
			if ok && req != tt.want {
				t.Errorf("Control() = %+v, want %+v", req, tt.want)
			}
		})
	}
}

func TestNRPNDecoderChannel(t *testing.T) {
	d := NewNRPNDecoder(16)
	for _, c := range [][2]uint8{{CCNRPNMSB, OutputBase}, {CCNRPNLSB, 3}, {CCDataEntryMSB, 0}} {
		d.Control(15, c[0], c[1])
	}
	if _, ok := d.Control(0, CCDataEntryLSB, 1); ok {
		t.Error("request completed on another channel")
	}
	if _, ok := d.Control(15, CCDataEntryLSB, 1); !ok {
		t.Error("request on channel 16 not completed")
	}
}

func TestTempoMeter(t *testing.T) {
	var m TempoMeter
	beat := 500 * time.Millisecond

	if _, ok := m.Clock(0); ok {
		t.Fatal("first clock reported a tempo")
	}
	for i := 1; i < ClocksPerBeat; i++ {
		if _, ok := m.Clock(beat * time.Duration(i) / ClocksPerBeat); ok {
			t.Fatalf("clock %d reported a tempo", i)
		}
	}
	bpm256, ok := m.Clock(beat)
	if !ok {
		t.Fatal("no tempo after a full beat")
	}
	if bpm256 != 120*256 {
		t.Errorf("tempo = %d, want %d", bpm256, 120*256)
	}
}

func TestTempoFromMicroseconds(t *testing.T) {
	if got := TempoFromMicroseconds(500000); got != 120*256 {
		t.Errorf("TempoFromMicroseconds(500000) = %d, want %d", got, 120*256)
	}
	if got := TempoFromMicroseconds(0); got != 0 {
		t.Errorf("TempoFromMicroseconds(0) = %d, want 0", got)
	}
}

func TestRouterClockDrivesTempoOutputs(t *testing.T) {
	r, e := newTestRouter()
	e.Reconfigure(0, cv.ParamSource, cv.SrcTempo, 0)

	beat := time.Second // 60 BPM
	clock := midi.Message{StatusTimingClock}
	for i := 0; i <= ClocksPerBeat; i++ {
		r.Handle(clock, beat*time.Duration(i)/ClocksPerBeat)
	}

	if got := e.Codes()[0]; got != 937 {
		t.Errorf("tempo code = %d, want 937", got)
	}
}

func buildTestFile(t *testing.T) []byte {
	t.Helper()
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)

	var track smf.Track
	track.Add(0, smf.MetaTempo(120))
	track.Add(0, midi.NoteOn(0, 60, 100))
	track.Add(96, midi.NoteOff(0, 60))
	track.Add(0, midi.NoteOn(0, 72, 100))
	track.Add(96, smf.MetaTempo(60))
	track.Close(0)

	if err := s.Add(track); err != nil {
		t.Fatalf("failed to add track: %v", err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("failed to write MIDI: %v", err)
	}
	return buf.Bytes()
}

func TestPlayerPlay(t *testing.T) {
	r, e := newTestRouter()
	e.Reconfigure(3, cv.ParamSource, cv.SrcTempo, 0)

	var steps []Step
	var codes [][cv.NumOutputs]uint16
	summary, err := NewPlayer(r).Play(buildTestFile(t), func(s Step) {
		steps = append(steps, s)
		codes = append(codes, e.Codes())
	})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	wantTimes := []time.Duration{0, 500 * time.Millisecond, time.Second}
	if len(steps) != len(wantTimes) {
		t.Fatalf("Play() reported %d steps, want %d", len(steps), len(wantTimes))
	}
	for i, want := range wantTimes {
		if steps[i].Time != want {
			t.Errorf("step %d time = %v, want %v", i, steps[i].Time, want)
		}
	}

	if codes[0][0] != 1500 {
		t.Errorf("code after first note = %d, want 1500", codes[0][0])
	}
	if codes[1][0] != 2000 {
		t.Errorf("code after second note = %d, want 2000", codes[1][0])
	}
	if codes[0][3] != 1875 || codes[2][3] != 937 {
		t.Errorf("tempo codes = %d, %d, want 1875, 937", codes[0][3], codes[2][3])
	}
	if summary.Events != 3 {
		t.Errorf("Summary.Events = %d, want 3", summary.Events)
	}
	if summary.Tempo != 60*256 {
		t.Errorf("Summary.Tempo = %d, want %d", summary.Tempo, 60*256)
	}
}

func TestPlayerFractionalTempo(t *testing.T) {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(96)
	var track smf.Track
	track.Add(0, smf.MetaTempo(140)) // 428571us per beat
	track.Add(0, midi.NoteOn(0, 60, 100))
	track.Close(0)
	if err := s.Add(track); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	r, _ := newTestRouter()
	summary, err := NewPlayer(r).Play(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if want := TempoFromMicroseconds(428571); summary.Tempo != want {
		t.Errorf("Summary.Tempo = %d, want %d", summary.Tempo, want)
	}
}

func TestPlayerRejectsGarbage(t *testing.T) {
	r, _ := newTestRouter()
	if _, err := NewPlayer(r).Play([]byte("not a midi file"), nil); err == nil {
		t.Error("Play() accepted invalid data")
	}
}

func TestEncodeDecodes(t *testing.T) {
	req := Request{Output: 2, Param: cv.ParamSource, Hi: cv.SrcStack1 + 1, Lo: cv.SrcVelocity}
	d := NewNRPNDecoder(cv.AnyChannel)

	var got []Request
	for _, msg := range Encode(4, req) {
		var ch, cc, value uint8
		if !msg.GetControlChange(&ch, &cc, &value) {
			t.Fatalf("Encode() produced %v, want control changes", msg)
		}
		if ch != 4 {
			t.Errorf("channel = %d, want 4", ch)
		}
		if r, ok := d.Control(ch, cc, value); ok {
			got = append(got, r)
		}
	}
	if len(got) != 1 || got[0] != req {
		t.Errorf("decoded %v, want [%v]", got, req)
	}
}
