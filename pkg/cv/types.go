// Package cv maps note stacks, MIDI controllers and tempo onto the control
// voltage outputs of a MIDI-to-CV converter.
package cv

import "fmt"

// Output and DAC constants
const (
	NumOutputs   = 4    // physical CV outputs
	NumStacks    = 4    // note stacks an output can listen to
	NumSlots     = 4    // voice slots per note stack
	MaxCode      = 4095 // 12-bit DAC
	CodesPerVolt = 500
	MaxVolts     = 8

	// NoteWindow is the highest displayable note after octave folding.
	NoteWindow = 96
	// NoteOffset is subtracted from the stack note before folding so that
	// MIDI note 24 (C1) is 0V.
	NoteOffset = 24

	BendCenter = 8192
	BendMax    = 16383
)

// Default full scale voltages applied when a source is selected
const (
	DefaultTestVolts     = 1
	DefaultTempoVolts    = 8
	DefaultCCVolts       = 5
	DefaultTouchVolts    = 5
	DefaultBendVolts     = 5
	DefaultVelocityVolts = 5
)

// Mode identifies which kind of source drives an output
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeNote
	ModeVelocity
	ModePitchBend
	ModeAftertouch
	ModeController
	ModeTempo
	ModeTestVoltage
)

var modeNames = [...]string{
	ModeDisabled:    "disabled",
	ModeNote:        "note",
	ModeVelocity:    "velocity",
	ModePitchBend:   "pitchbend",
	ModeAftertouch:  "aftertouch",
	ModeController:  "cc",
	ModeTempo:       "tempo",
	ModeTestVoltage: "test",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode returns the mode with the given name.
func ParseMode(name string) (Mode, bool) {
	for m, n := range modeNames {
		if n == name {
			return Mode(m), true
		}
	}
	return 0, false
}

// MIDIChannel is a configured channel filter. AnyChannel matches every
// channel, 1-16 match a single channel.
type MIDIChannel uint8

const AnyChannel MIDIChannel = 0

// Matches reports whether a 0-based channel from a MIDI message passes the filter.
func (c MIDIChannel) Matches(ch uint8) bool {
	return c == AnyChannel || uint8(c) == ch+1
}

func (c MIDIChannel) String() string {
	if c == AnyChannel {
		return "any"
	}
	return fmt.Sprintf("%d", uint8(c))
}

// Source is the binding of one output. Exactly one concrete type is held per
// output, so fields of other modes cannot be read after a mode switch.
type Source interface {
	Mode() Mode
}

// Disabled outputs are held at 0V.
type Disabled struct{}

// NoteSource tracks the pitch of one voice slot of a note stack.
type NoteSource struct {
	Stack     uint8
	Slot      uint8
	Transpose int8
}

// VelocitySource tracks the velocity of the last note played on a stack.
type VelocitySource struct {
	Stack uint8
	Volts uint8
}

// PitchBendSource follows MIDI pitch bend.
type PitchBendSource struct {
	Channel MIDIChannel
	Volts   uint8
}

// AftertouchSource follows MIDI channel pressure.
type AftertouchSource struct {
	Channel MIDIChannel
	Volts   uint8
}

// ControllerSource follows a single MIDI continuous controller.
type ControllerSource struct {
	Channel    MIDIChannel
	Controller uint8
	Volts      uint8
}

// TempoSource outputs the clock tempo, full scale at 256 BPM.
type TempoSource struct {
	Volts uint8
}

// TestVoltage holds the output at a fixed number of volts.
type TestVoltage struct {
	Volts uint8
}

func (Disabled) Mode() Mode         { return ModeDisabled }
func (NoteSource) Mode() Mode       { return ModeNote }
func (VelocitySource) Mode() Mode   { return ModeVelocity }
func (PitchBendSource) Mode() Mode  { return ModePitchBend }
func (AftertouchSource) Mode() Mode { return ModeAftertouch }
func (ControllerSource) Mode() Mode { return ModeController }
func (TempoSource) Mode() Mode      { return ModeTempo }
func (TestVoltage) Mode() Mode      { return ModeTestVoltage }

// FullScale returns the full scale voltage of a source, and false when the
// source is not voltage scaled.
func FullScale(s Source) (uint8, bool) {
	switch s := s.(type) {
	case VelocitySource:
		return s.Volts, true
	case PitchBendSource:
		return s.Volts, true
	case AftertouchSource:
		return s.Volts, true
	case ControllerSource:
		return s.Volts, true
	case TempoSource:
		return s.Volts, true
	case TestVoltage:
		return s.Volts, true
	}
	return 0, false
}

// withFullScale returns a copy of s with its full scale voltage replaced.
func withFullScale(s Source, volts uint8) (Source, bool) {
	switch s := s.(type) {
	case VelocitySource:
		s.Volts = volts
		return s, true
	case PitchBendSource:
		s.Volts = volts
		return s, true
	case AftertouchSource:
		s.Volts = volts
		return s, true
	case ControllerSource:
		s.Volts = volts
		return s, true
	case TempoSource:
		s.Volts = volts
		return s, true
	case TestVoltage:
		s.Volts = volts
		return s, true
	}
	return s, false
}

// Describe renders a binding for humans, e.g. "cc 74 ch any 5V".
func Describe(s Source) string {
	switch s := s.(type) {
	case NoteSource:
		return fmt.Sprintf("note stack %d slot %d transpose %+d", s.Stack+1, s.Slot+1, s.Transpose)
	case VelocitySource:
		return fmt.Sprintf("velocity stack %d %dV", s.Stack+1, s.Volts)
	case PitchBendSource:
		return fmt.Sprintf("pitchbend ch %s %dV", s.Channel, s.Volts)
	case AftertouchSource:
		return fmt.Sprintf("aftertouch ch %s %dV", s.Channel, s.Volts)
	case ControllerSource:
		return fmt.Sprintf("cc %d ch %s %dV", s.Controller, s.Channel, s.Volts)
	case TempoSource:
		return fmt.Sprintf("tempo %dV", s.Volts)
	case TestVoltage:
		return fmt.Sprintf("test %dV", s.Volts)
	}
	return "disabled"
}

// StackEvent is raised by a note stack when its outputs change
type StackEvent uint8

const (
	SlotA StackEvent = iota
	SlotB
	SlotC
	SlotD
	BendUpdate
)

// IsSlot reports whether the event is a voice slot update.
func (e StackEvent) IsSlot() bool {
	return e <= SlotD
}

// StackState is the current state of a note stack as seen by the outputs.
type StackState struct {
	Slots    [NumSlots]int // note numbers
	Velocity uint8
	Bend     int // 1/256 semitone, 0 is no bend
}

// StackReader gives access to the note stacks.
type StackReader interface {
	Stack(id int) StackState
}

// Update is a changed output code waiting for transmission.
type Update struct {
	Output int
	Code   uint16
}

// Millivolts converts a DAC code to the output voltage in millivolts.
func Millivolts(code uint16) int {
	return int(code) * 1000 / CodesPerVolt
}
