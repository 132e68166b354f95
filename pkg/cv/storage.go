package cv

import "fmt"

// RecordSize is the size of one output in a configuration blob. The layout
// is mode, full scale volts, then three mode specific bytes:
//
//	note:       stack, slot, transpose (two's complement)
//	velocity:   stack
//	bend/touch: channel
//	cc:         channel, controller
const RecordSize = 5

// BlobSize is the size of a complete configuration blob.
const BlobSize = NumOutputs * RecordSize

// ExportConfiguration returns the bindings as a fixed size blob for storage.
func (e *Engine) ExportConfiguration() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	blob := make([]byte, BlobSize)
	for out, src := range e.sources {
		encodeSource(blob[out*RecordSize:(out+1)*RecordSize], src)
	}
	return blob
}

// ImportConfiguration replaces all bindings with those in a blob produced by
// ExportConfiguration. The blob is validated as a whole; on error nothing is
// changed. Cached codes and notes are kept.
func (e *Engine) ImportConfiguration(blob []byte) error {
	sources, err := DecodeConfiguration(blob)
	if err != nil {
		return err
	}
	return e.LoadSources(sources)
}

// LoadSources replaces all bindings at once. Every source is validated
// first; on error nothing is changed.
func (e *Engine) LoadSources(sources [NumOutputs]Source) error {
	for out, src := range sources {
		if err := Validate(src); err != nil {
			return fmt.Errorf("output %d: %w", out, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources = sources
	return nil
}

// DecodeConfiguration parses and validates a configuration blob.
func DecodeConfiguration(blob []byte) ([NumOutputs]Source, error) {
	var sources [NumOutputs]Source
	if len(blob) != BlobSize {
		return sources, fmt.Errorf("%w: got %d bytes, want %d", ErrBlobSize, len(blob), BlobSize)
	}
	for out := range sources {
		src, err := decodeSource(blob[out*RecordSize : (out+1)*RecordSize])
		if err != nil {
			return sources, fmt.Errorf("output %d: %w", out, err)
		}
		sources[out] = src
	}
	return sources, nil
}

func encodeSource(rec []byte, src Source) {
	rec[0] = byte(src.Mode())
	if v, ok := FullScale(src); ok {
		rec[1] = v
	}
	switch s := src.(type) {
	case NoteSource:
		rec[2] = s.Stack
		rec[3] = s.Slot
		rec[4] = byte(s.Transpose)
	case VelocitySource:
		rec[2] = s.Stack
	case PitchBendSource:
		rec[2] = byte(s.Channel)
	case AftertouchSource:
		rec[2] = byte(s.Channel)
	case ControllerSource:
		rec[2] = byte(s.Channel)
		rec[3] = s.Controller
	}
}

func decodeSource(rec []byte) (Source, error) {
	var src Source
	volts, ch := rec[1], MIDIChannel(rec[2])
	switch Mode(rec[0]) {
	case ModeDisabled:
		src = Disabled{}
	case ModeNote:
		src = NoteSource{Stack: rec[2], Slot: rec[3], Transpose: int8(rec[4])}
	case ModeVelocity:
		src = VelocitySource{Stack: rec[2], Volts: volts}
	case ModePitchBend:
		src = PitchBendSource{Channel: ch, Volts: volts}
	case ModeAftertouch:
		src = AftertouchSource{Channel: ch, Volts: volts}
	case ModeController:
		src = ControllerSource{Channel: ch, Controller: rec[3], Volts: volts}
	case ModeTempo:
		src = TempoSource{Volts: volts}
	case ModeTestVoltage:
		src = TestVoltage{Volts: volts}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, rec[0])
	}
	if err := Validate(src); err != nil {
		return nil, err
	}
	return src, nil
}

// Validate checks that every field of a source is in range.
func Validate(src Source) error {
	if src == nil {
		return ErrUnknownMode
	}
	if v, ok := FullScale(src); ok && v > MaxVolts {
		return fmt.Errorf("%w: %d", ErrVoltsRange, v)
	}
	switch s := src.(type) {
	case NoteSource:
		if s.Stack >= NumStacks {
			return fmt.Errorf("%w: %d", ErrStackRange, s.Stack)
		}
		if s.Slot >= NumSlots {
			return fmt.Errorf("%w: %d", ErrSlotRange, s.Slot)
		}
	case VelocitySource:
		if s.Stack >= NumStacks {
			return fmt.Errorf("%w: %d", ErrStackRange, s.Stack)
		}
	case PitchBendSource:
		return validateChannel(s.Channel)
	case AftertouchSource:
		return validateChannel(s.Channel)
	case ControllerSource:
		if s.Controller > 127 {
			return fmt.Errorf("%w: %d", ErrControllerNum, s.Controller)
		}
		return validateChannel(s.Channel)
	case Disabled, TempoSource, TestVoltage:
	default:
		return ErrUnknownMode
	}
	return nil
}

func validateChannel(ch MIDIChannel) error {
	if ch > 16 {
		return fmt.Errorf("%w: %d", ErrChannelRange, ch)
	}
	return nil
}
