package patch

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/james-see/midicv/pkg/cv"
)

// Binding is the readable form of one output's source. Numbers are 1-based
// as printed on the panel; channel 0 means any channel.
type Binding struct {
	Output     int    `yaml:"output"`
	Mode       string `yaml:"mode"`
	Stack      int    `yaml:"stack,omitempty"`
	Slot       int    `yaml:"slot,omitempty"`
	Transpose  int    `yaml:"transpose,omitempty"`
	Channel    int    `yaml:"channel,omitempty"`
	Controller int    `yaml:"controller,omitempty"`
	Volts      int    `yaml:"volts,omitempty"`
}

// Document is a complete patch in YAML form
type Document struct {
	Outputs []Binding `yaml:"outputs"`
}

// ToBinding converts a source into its readable form.
func ToBinding(out int, src cv.Source) Binding {
	b := Binding{Output: out + 1, Mode: src.Mode().String()}
	if v, ok := cv.FullScale(src); ok {
		b.Volts = int(v)
	}
	switch s := src.(type) {
	case cv.NoteSource:
		b.Stack, b.Slot, b.Transpose = int(s.Stack)+1, int(s.Slot)+1, int(s.Transpose)
	case cv.VelocitySource:
		b.Stack = int(s.Stack) + 1
	case cv.PitchBendSource:
		b.Channel = int(s.Channel)
	case cv.AftertouchSource:
		b.Channel = int(s.Channel)
	case cv.ControllerSource:
		b.Channel, b.Controller = int(s.Channel), int(s.Controller)
	}
	return b
}

// Source converts a binding back, validating every field.
func (b Binding) Source() (cv.Source, error) {
	mode, ok := cv.ParseMode(b.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", cv.ErrUnknownMode, b.Mode)
	}
	if b.Stack < 0 || b.Stack > cv.NumStacks || b.Slot < 0 || b.Slot > cv.NumSlots ||
		b.Channel < 0 || b.Channel > 16 || b.Controller < 0 || b.Controller > 127 ||
		b.Volts < 0 || b.Volts > cv.MaxVolts || b.Transpose < -64 || b.Transpose > 63 {
		return nil, fmt.Errorf("output %d: value out of range", b.Output)
	}

	stack := uint8(max(b.Stack, 1) - 1)
	ch := cv.MIDIChannel(b.Channel)
	volts := uint8(b.Volts)

	var src cv.Source
	switch mode {
	case cv.ModeDisabled:
		src = cv.Disabled{}
	case cv.ModeNote:
		src = cv.NoteSource{Stack: stack, Slot: uint8(max(b.Slot, 1) - 1), Transpose: int8(b.Transpose)}
	case cv.ModeVelocity:
		src = cv.VelocitySource{Stack: stack, Volts: volts}
	case cv.ModePitchBend:
		src = cv.PitchBendSource{Channel: ch, Volts: volts}
	case cv.ModeAftertouch:
		src = cv.AftertouchSource{Channel: ch, Volts: volts}
	case cv.ModeController:
		src = cv.ControllerSource{Channel: ch, Controller: uint8(b.Controller), Volts: volts}
	case cv.ModeTempo:
		src = cv.TempoSource{Volts: volts}
	case cv.ModeTestVoltage:
		src = cv.TestVoltage{Volts: volts}
	}
	if err := cv.Validate(src); err != nil {
		return nil, fmt.Errorf("output %d: %w", b.Output, err)
	}
	return src, nil
}

// MarshalYAML renders the bindings of all outputs.
func MarshalYAML(sources [cv.NumOutputs]cv.Source) ([]byte, error) {
	doc := Document{Outputs: make([]Binding, 0, cv.NumOutputs)}
	for out, src := range sources {
		doc.Outputs = append(doc.Outputs, ToBinding(out, src))
	}
	return yaml.Marshal(&doc)
}

// UnmarshalYAML parses a YAML patch. Outputs not listed are disabled.
func UnmarshalYAML(data []byte) ([cv.NumOutputs]cv.Source, error) {
	var sources [cv.NumOutputs]cv.Source
	for i := range sources {
		sources[i] = cv.Disabled{}
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return sources, fmt.Errorf("failed to parse patch: %w", err)
	}
	seen := make(map[int]bool)
	for _, b := range doc.Outputs {
		if b.Output < 1 || b.Output > cv.NumOutputs {
			return sources, fmt.Errorf("%w: %d", cv.ErrOutputRange, b.Output)
		}
		if seen[b.Output] {
			return sources, fmt.Errorf("output %d listed twice", b.Output)
		}
		seen[b.Output] = true
		src, err := b.Source()
		if err != nil {
			return sources, err
		}
		sources[b.Output-1] = src
	}
	return sources, nil
}
