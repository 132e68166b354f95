// Package notestack tracks held notes per MIDI input and exposes them as
// voice slots for the CV outputs.
package notestack

import (
	"sync"

	"github.com/james-see/midicv/pkg/cv"
)

const (
	MaxHeld          = 16
	DefaultBendRange = 2 // semitones either way
)

// Event tells the outputs which part of a stack changed
type Event struct {
	Stack int
	Kind  cv.StackEvent
}

type heldNote struct {
	note     uint8
	velocity uint8
}

type stack struct {
	channel   cv.MIDIChannel
	bendRange uint8
	held      []heldNote
	state     cv.StackState
}

// Bank holds the note stacks. Stack i listens to MIDI channel i+1 by default.
type Bank struct {
	mu     sync.Mutex
	stacks [cv.NumStacks]stack
}

// NewBank creates a bank with default channels and bend range.
func NewBank() *Bank {
	b := &Bank{}
	for i := range b.stacks {
		b.stacks[i] = stack{
			channel:   cv.MIDIChannel(i + 1),
			bendRange: DefaultBendRange,
			held:      make([]heldNote, 0, MaxHeld),
		}
	}
	return b
}

// Stack returns the current state of a stack.
func (b *Bank) Stack(id int) cv.StackState {
	if id < 0 || id >= cv.NumStacks {
		return cv.StackState{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stacks[id].state
}

// SetChannel changes the MIDI channel a stack listens to.
func (b *Bank) SetChannel(id int, ch cv.MIDIChannel) {
	if id < 0 || id >= cv.NumStacks || ch > 16 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stacks[id].channel = ch
}

// Channel returns the MIDI channel a stack listens to.
func (b *Bank) Channel(id int) cv.MIDIChannel {
	if id < 0 || id >= cv.NumStacks {
		return cv.AnyChannel
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stacks[id].channel
}

// SetBendRange sets the pitch bend range of a stack in semitones.
func (b *Bank) SetBendRange(id int, semitones uint8) {
	if id < 0 || id >= cv.NumStacks {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stacks[id].bendRange = semitones
}

// NoteOn pushes a note onto every stack listening to ch.
func (b *Bank) NoteOn(ch, note, velocity uint8) []Event {
	if velocity == 0 {
		return b.NoteOff(ch, note)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []Event
	for id := range b.stacks {
		s := &b.stacks[id]
		if !s.channel.Matches(ch) {
			continue
		}
		s.remove(note)
		if len(s.held) == MaxHeld {
			s.held = append(s.held[:0], s.held[1:]...)
		}
		s.held = append(s.held, heldNote{note: note, velocity: velocity})
		s.state.Velocity = velocity
		changed := s.assign()
		// the newest note always retriggers slot A
		changed[cv.SlotA] = true
		events = appendSlots(events, id, changed)
	}
	return events
}

// NoteOff removes a note from every stack listening to ch. Slots keep their
// last note when fewer notes are held than slots.
func (b *Bank) NoteOff(ch, note uint8) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []Event
	for id := range b.stacks {
		s := &b.stacks[id]
		if !s.channel.Matches(ch) || !s.remove(note) {
			continue
		}
		if len(s.held) > 0 {
			s.state.Velocity = s.held[len(s.held)-1].velocity
		}
		events = appendSlots(events, id, s.assign())
	}
	return events
}

// PitchBend sets the bend of every stack listening to ch. value is the raw
// 14-bit bend, 8192 being centre.
func (b *Bank) PitchBend(ch uint8, value int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []Event
	for id := range b.stacks {
		s := &b.stacks[id]
		if !s.channel.Matches(ch) {
			continue
		}
		bend := (value - cv.BendCenter) * int(s.bendRange) * 256 / cv.BendCenter
		if bend == s.state.Bend {
			continue
		}
		s.state.Bend = bend
		events = append(events, Event{Stack: id, Kind: cv.BendUpdate})
	}
	return events
}

// Reset releases all held notes and centres the bend.
func (b *Bank) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.stacks {
		b.stacks[id].held = b.stacks[id].held[:0]
		b.stacks[id].state.Bend = 0
	}
}

// Held returns the number of notes held on a stack.
func (b *Bank) Held(id int) int {
	if id < 0 || id >= cv.NumStacks {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stacks[id].held)
}

func (s *stack) remove(note uint8) bool {
	for i, h := range s.held {
		if h.note == note {
			s.held = append(s.held[:i], s.held[i+1:]...)
			return true
		}
	}
	return false
}

// assign puts the newest held notes into the slots and reports which changed.
func (s *stack) assign() [cv.NumSlots]bool {
	var changed [cv.NumSlots]bool
	for slot := 0; slot < cv.NumSlots && slot < len(s.held); slot++ {
		note := int(s.held[len(s.held)-1-slot].note)
		if s.state.Slots[slot] != note {
			s.state.Slots[slot] = note
			changed[slot] = true
		}
	}
	return changed
}

func appendSlots(events []Event, id int, changed [cv.NumSlots]bool) []Event {
	for slot, ok := range changed {
		if ok {
			events = append(events, Event{Stack: id, Kind: cv.SlotA + cv.StackEvent(slot)})
		}
	}
	return events
}
