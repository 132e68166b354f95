// Package midiin feeds MIDI messages, live or from a file, into the note
// stacks and the CV engine.
package midiin

import (
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/debug"
	"github.com/james-see/midicv/pkg/notestack"
)

// MIDI realtime status bytes
const (
	StatusTimingClock = 0xF8
	StatusStart       = 0xFA
	StatusContinue    = 0xFB
	StatusStop        = 0xFC
)

// Router dispatches decoded MIDI messages. It is safe for concurrent use, so
// a live port and the API can feed the same router.
type Router struct {
	mu     sync.Mutex
	engine *cv.Engine
	stacks *notestack.Bank
	nrpn   *NRPNDecoder
	tempo  TempoMeter

	// OnReconfigure, when set, is called after each NRPN request.
	OnReconfigure func(req Request, changed bool)
}

// NewRouter creates a router accepting NRPN reconfiguration on nrpnChannel.
func NewRouter(engine *cv.Engine, stacks *notestack.Bank, nrpnChannel cv.MIDIChannel) *Router {
	return &Router{
		engine: engine,
		stacks: stacks,
		nrpn:   NewNRPNDecoder(nrpnChannel),
	}
}

// HandleMessage has the signature expected by midi.ListenTo.
func (r *Router) HandleMessage(msg midi.Message, timestampms int32) {
	r.Handle(msg, time.Duration(timestampms)*time.Millisecond)
}

// Handle routes one message received at the given time.
func (r *Router) Handle(msg midi.Message, at time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ch, key, vel, cc, value uint8
	var rel int16
	var abs uint16

	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		r.stackEvents(r.stacks.NoteOn(ch, key, vel))

	case msg.GetNoteOff(&ch, &key, &vel):
		r.stackEvents(r.stacks.NoteOff(ch, key))

	case msg.GetControlChange(&ch, &cc, &value):
		if IsNRPN(cc) && r.nrpn.Channel.Matches(ch) {
			if req, ok := r.nrpn.Control(ch, cc, value); ok {
				r.apply(req)
			}
			return
		}
		r.engine.OnMIDICC(ch, cc, value)

	case msg.GetAfterTouch(&ch, &value):
		r.engine.OnMIDIAftertouch(ch, value)

	case msg.GetPitchBend(&ch, &rel, &abs):
		r.stackEvents(r.stacks.PitchBend(ch, int(abs)))
		r.engine.OnMIDIPitchBend(ch, int(abs))

	case len(msg) == 1 && msg[0] == StatusTimingClock:
		if bpm256, ok := r.tempo.Clock(at); ok {
			debug.LogEvery(8, debug.MIDI, "clock tempo %d.%02d BPM", bpm256/256, (bpm256%256)*100/256)
			r.engine.OnTempoTick(bpm256)
		}

	case len(msg) == 1 && (msg[0] == StatusStart || msg[0] == StatusContinue || msg[0] == StatusStop):
		r.tempo.Reset()
	}
}

// Tempo sets the tempo outputs directly, e.g. from a file's tempo map.
func (r *Router) Tempo(bpm256 int64) {
	r.engine.OnTempoTick(bpm256)
}

// Apply performs a reconfiguration request against the engine.
func (r *Router) Apply(req Request) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(req)
}

func (r *Router) apply(req Request) bool {
	changed := r.engine.Reconfigure(req.Output, req.Param, req.Hi, req.Lo)
	if changed && (req.Param == cv.ParamSource || req.Param == cv.ParamVolts) {
		// test and bend outputs get no events until then
		r.engine.Settle(req.Output)
	}
	debug.Log(debug.NRPN, "output %d %s %d/%d changed=%v", req.Output+1, req.Param, req.Hi, req.Lo, changed)
	if r.OnReconfigure != nil {
		r.OnReconfigure(req, changed)
	}
	return changed
}

func (r *Router) stackEvents(events []notestack.Event) {
	for _, ev := range events {
		r.engine.OnNoteStackEvent(ev.Kind, ev.Stack)
	}
}
