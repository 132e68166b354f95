package cv

// Param selects what a reconfiguration request changes
type Param uint8

const (
	ParamSource    Param = 1
	ParamTranspose Param = 2
	ParamVolts     Param = 3
	ParamChannel   Param = 4
)

func (p Param) String() string {
	switch p {
	case ParamSource:
		return "source"
	case ParamTranspose:
		return "transpose"
	case ParamVolts:
		return "volts"
	case ParamChannel:
		return "channel"
	}
	return "unknown"
}

// Source selection values, sent as value_hi of a ParamSource request
const (
	SrcDisable     uint8 = 0
	SrcTestVoltage uint8 = 1
	SrcTempo       uint8 = 2
	SrcController  uint8 = 3 // value_lo is the controller number
	SrcAftertouch  uint8 = 4
	SrcPitchBend   uint8 = 5
	SrcStack1      uint8 = 10 // SrcStack1..SrcStack1+3, value_lo selects below
)

// Stack selection values, sent as value_lo with SrcStack1..4
const (
	SrcNote1    uint8 = 0 // SrcNote1..SrcNote1+3 pick the voice slot
	SrcVelocity uint8 = 4
)

// TransposeCenter is the value_lo of a transpose request that means no transposition.
const TransposeCenter = 64

// Reconfigure applies one reconfiguration request to an output and reports
// whether anything was changed. Requests that do not match a defined case,
// including out of range outputs and voltages, are ignored.
func (e *Engine) Reconfigure(out int, param Param, hi, lo uint8) bool {
	if !validOutput(out) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch param {
	case ParamSource:
		return e.selectSource(out, hi, lo)

	case ParamTranspose:
		src, ok := e.sources[out].(NoteSource)
		if !ok || lo > 127 {
			return false
		}
		src.Transpose = int8(int(lo) - TransposeCenter)
		e.sources[out] = src
		return true

	case ParamVolts:
		if lo > MaxVolts {
			return false
		}
		// note outputs are fixed at 1V/octave and disabled ones carry no
		// range, so only volts-scaled sources take the request
		src, ok := withFullScale(e.sources[out], lo)
		if !ok {
			return false
		}
		e.sources[out] = src
		return true

	case ParamChannel:
		if lo > 16 {
			return false
		}
		ch := MIDIChannel(lo)
		switch src := e.sources[out].(type) {
		case PitchBendSource:
			src.Channel = ch
			e.sources[out] = src
		case AftertouchSource:
			src.Channel = ch
			e.sources[out] = src
		case ControllerSource:
			src.Channel = ch
			e.sources[out] = src
		default:
			return false
		}
		return true
	}
	return false
}

func (e *Engine) selectSource(out int, hi, lo uint8) bool {
	switch {
	case hi == SrcDisable:
		e.writeRawVolts(out, 0)
		e.sources[out] = Disabled{}
	case hi == SrcTestVoltage:
		e.sources[out] = TestVoltage{Volts: DefaultTestVolts}
	case hi == SrcTempo:
		e.sources[out] = TempoSource{Volts: DefaultTempoVolts}
	case hi == SrcController:
		if lo > 127 {
			return false
		}
		e.sources[out] = ControllerSource{Channel: AnyChannel, Controller: lo, Volts: DefaultCCVolts}
	case hi == SrcAftertouch:
		e.sources[out] = AftertouchSource{Channel: AnyChannel, Volts: DefaultTouchVolts}
	case hi == SrcPitchBend:
		e.sources[out] = PitchBendSource{Channel: AnyChannel, Volts: DefaultBendVolts}
	case hi >= SrcStack1 && hi < SrcStack1+NumStacks:
		stack := hi - SrcStack1
		switch {
		case lo < SrcNote1+NumSlots:
			e.sources[out] = NoteSource{Stack: stack, Slot: lo - SrcNote1}
		case lo == SrcVelocity:
			e.sources[out] = VelocitySource{Stack: stack, Volts: DefaultVelocityVolts}
		default:
			return false
		}
	default:
		return false
	}
	return true
}
