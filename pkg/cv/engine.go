package cv

import (
	"errors"
	"fmt"
	"sync"
)

// HardwareConfigurer performs the one-time DAC setup at initialisation.
type HardwareConfigurer interface {
	Configure() error
}

// Engine owns the output bindings, the cached DAC codes and the pending
// transmission set. All methods are safe for concurrent use; each runs to
// completion under a single lock.
type Engine struct {
	mu      sync.Mutex
	stacks  StackReader
	sources [NumOutputs]Source
	codes   [NumOutputs]uint16
	notes   [NumOutputs]int
	dirty   [NumOutputs]bool
}

// New creates an engine reading note state from stacks, with the default
// bindings in place.
func New(stacks StackReader) *Engine {
	e := &Engine{stacks: stacks}
	e.reset()
	return e
}

func (e *Engine) reset() {
	for i := range e.sources {
		e.sources[i] = Disabled{}
		e.codes[i] = 0
		e.notes[i] = 0
		e.dirty[i] = false
	}
	for i := 0; i < NumOutputs && i < NumSlots; i++ {
		e.sources[i] = NoteSource{Stack: 0, Slot: uint8(i)}
	}
}

// Initialize restores the default bindings, clears all cached state and runs
// the DAC hardware setup once. hw may be nil.
func (e *Engine) Initialize(hw HardwareConfigurer) error {
	e.mu.Lock()
	e.reset()
	e.mu.Unlock()
	if hw == nil {
		return nil
	}
	if err := hw.Configure(); err != nil {
		return fmt.Errorf("failed to configure DAC: %w", err)
	}
	return nil
}

// ResetToSafeState writes a known value to every output without going
// through event dispatch and marks all outputs pending.
func (e *Engine) ResetToSafeState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for out := 0; out < NumOutputs; out++ {
		e.writeSafe(out)
		e.dirty[out] = true
	}
}

// Settle writes the safe value of one output if its source holds a fixed
// level: the test voltage, or the bend centre. It reports whether it did.
// Other outputs keep their current code.
func (e *Engine) Settle(out int) bool {
	if !validOutput(out) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.sources[out].(type) {
	case TestVoltage, PitchBendSource:
		e.writeSafe(out)
		return true
	}
	return false
}

func (e *Engine) writeSafe(out int) {
	switch src := e.sources[out].(type) {
	case TestVoltage:
		e.writeRawVolts(out, src.Volts)
	case PitchBendSource:
		e.writeBendValue(out, BendCenter, src.Volts)
	default:
		e.writeRawVolts(out, 0)
	}
}

// Source returns the binding of an output.
func (e *Engine) Source(out int) Source {
	if !validOutput(out) {
		return Disabled{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sources[out]
}

// SetSource replaces the binding of an output. It is used when restoring a
// patch; live reconfiguration goes through Reconfigure.
func (e *Engine) SetSource(out int, src Source) error {
	if !validOutput(out) {
		return fmt.Errorf("output %d: %w", out, ErrOutputRange)
	}
	if err := Validate(src); err != nil {
		return fmt.Errorf("output %d: %w", out, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[out] = src
	return nil
}

// Sources returns a copy of all bindings.
func (e *Engine) Sources() [NumOutputs]Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sources
}

// Codes returns a copy of the cached DAC codes.
func (e *Engine) Codes() [NumOutputs]uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codes
}

// Note returns the last resolved note of a note output.
func (e *Engine) Note(out int) int {
	if !validOutput(out) {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notes[out]
}

// Dirty reports whether an output has a change waiting for transmission.
func (e *Engine) Dirty(out int) bool {
	if !validOutput(out) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty[out]
}

// Pending returns the outputs waiting for transmission without clearing
// them. The consumer calls Acknowledge after a successful transmission.
func (e *Engine) Pending() []Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	var updates []Update
	for out := 0; out < NumOutputs; out++ {
		if e.dirty[out] {
			updates = append(updates, Update{Output: out, Code: e.codes[out]})
		}
	}
	return updates
}

// Acknowledge clears the pending marks of transmitted updates. An output
// whose code changed again since the batch was taken stays pending.
func (e *Engine) Acknowledge(batch []Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range batch {
		if validOutput(u.Output) && e.codes[u.Output] == u.Code {
			e.dirty[u.Output] = false
		}
	}
}

// Drain returns the pending updates and clears them.
func (e *Engine) Drain() []Update {
	batch := e.Pending()
	e.Acknowledge(batch)
	return batch
}

// Errors returned when loading a configuration
var (
	ErrOutputRange   = errors.New("output out of range")
	ErrBlobSize      = errors.New("configuration has wrong size")
	ErrUnknownMode   = errors.New("unknown mode")
	ErrVoltsRange    = errors.New("full scale volts out of range")
	ErrStackRange    = errors.New("note stack out of range")
	ErrSlotRange     = errors.New("voice slot out of range")
	ErrChannelRange  = errors.New("MIDI channel out of range")
	ErrControllerNum = errors.New("controller number out of range")
)
