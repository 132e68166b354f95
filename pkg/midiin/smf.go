package midiin

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultTempo of a MIDI file without tempo events, in microseconds per beat
const DefaultTempo = 500000

// Step is reported after all events of one file tick have been routed
type Step struct {
	Tick int64
	Time time.Duration
}

// Summary describes a finished playback
type Summary struct {
	Events   int
	Steps    int
	Duration time.Duration
	Tempo    int64 // BPM * 256 at the end of the file
}

// Player routes the events of a standard MIDI file in time order.
type Player struct {
	router *Router
}

// NewPlayer creates a player feeding router.
func NewPlayer(router *Router) *Player {
	return &Player{router: router}
}

type timedEvent struct {
	tick int64
	msg  smf.Message
}

// PlayFile reads and plays a MIDI file.
func (p *Player) PlayFile(filename string, onStep func(Step)) (Summary, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return p.Play(data, onStep)
}

// Play parses MIDI data and routes its events, merging all tracks. onStep is
// called after each tick that carried at least one event, with the playback
// time computed from the file's tempo map.
func (p *Player) Play(data []byte, onStep func(Step)) (Summary, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return Summary{}, errors.New("SMPTE time format is not supported")
	}
	resolution := int64(mt.Resolution())
	if resolution == 0 {
		return Summary{}, errors.New("invalid MIDI resolution")
	}

	var events []timedEvent
	for _, track := range s.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			events = append(events, timedEvent{tick: tick, msg: ev.Message})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })

	usPerBeat := int64(DefaultTempo)
	summary := Summary{Tempo: TempoFromMicroseconds(DefaultTempo)}
	p.router.Tempo(summary.Tempo)

	var elapsed time.Duration
	lastTick := int64(0)
	routed := false
	for i, ev := range events {
		if ev.tick > lastTick {
			elapsed += time.Duration((ev.tick-lastTick)*usPerBeat/resolution) * time.Microsecond
			lastTick = ev.tick
		}

		msg := ev.msg
		var bpm float64
		switch {
		case msg.GetMetaTempo(&bpm):
			if bpm > 0 {
				// the file stores whole microseconds per beat
				us := uint32(math.Round(60000000 / bpm))
				usPerBeat = int64(us)
				summary.Tempo = TempoFromMicroseconds(us)
				p.router.Tempo(summary.Tempo)
				routed = true
			}
		case len(msg) > 0 && !msg.IsMeta() && msg[0] != 0xF0:
			p.router.Handle(midi.Message(msg), elapsed)
			summary.Events++
			routed = true
		}

		if !routed || (i+1 < len(events) && events[i+1].tick == ev.tick) {
			continue
		}
		routed = false
		summary.Steps++
		if onStep != nil {
			onStep(Step{Tick: ev.tick, Time: elapsed})
		}
	}
	summary.Duration = elapsed
	return summary, nil
}
