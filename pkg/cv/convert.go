package cv

// The write operations below convert musical values to DAC codes. They all
// end in commit, which clamps, suppresses repeated writes and marks outputs
// pending. Callers must hold e.mu.

// noteCode converts a note and a bend offset in 1/256 semitone to a DAC code
// at 1V/octave, rounding to the nearest code.
func noteCode(note, bend int) int {
	num := int64(note*256+bend) * CodesPerVolt
	const den = 12 * 256
	if num < 0 {
		return -1
	}
	return int((num + den/2) / den)
}

// sevenBitCode scales 0-127 linearly to volts.
func sevenBitCode(value, volts uint8) int {
	if value > 127 {
		value = 127
	}
	return (int(value)*CodesPerVolt*int(volts) + 63) / 127
}

// bendCode scales a 14-bit value to volts, 8192 giving half scale.
func bendCode(value int, volts uint8) int {
	if value < 0 {
		value = 0
	}
	if value > BendMax {
		value = BendMax
	}
	return (value * CodesPerVolt * int(volts)) >> 14
}

// tempoCode scales a BPM*256 value so that 256 BPM gives full scale.
func tempoCode(value int64, volts uint8) int {
	if value < 0 {
		return 0
	}
	code := (value * CodesPerVolt * int64(volts)) >> 16
	if code > MaxCode {
		return MaxCode
	}
	return int(code)
}

func (e *Engine) writeNote(out, note, bend int) {
	e.commit(out, noteCode(note, bend))
}

func (e *Engine) writeControllerValue(out int, value, volts uint8) {
	e.commit(out, sevenBitCode(value, volts))
}

func (e *Engine) writeBendValue(out, value int, volts uint8) {
	e.commit(out, bendCode(value, volts))
}

func (e *Engine) writeRawVolts(out int, volts uint8) {
	e.commit(out, int(volts)*CodesPerVolt)
}

func (e *Engine) commit(out, code int) {
	if code < 0 {
		code = 0
	}
	if code > MaxCode {
		code = MaxCode
	}
	if uint16(code) == e.codes[out] {
		return
	}
	e.codes[out] = uint16(code)
	e.dirty[out] = true
}

func validOutput(out int) bool {
	return out >= 0 && out < NumOutputs
}

// WriteNote writes a note with a bend offset in 1/256 semitone to an output.
func (e *Engine) WriteNote(out, note, bend int) {
	if !validOutput(out) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeNote(out, note, bend)
}

// WriteControllerValue writes a 7-bit value scaled to volts. Values above 127
// are clamped.
func (e *Engine) WriteControllerValue(out int, value, volts uint8) {
	if !validOutput(out) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeControllerValue(out, value, volts)
}

// WriteBendValue writes a 14-bit value scaled to volts.
func (e *Engine) WriteBendValue(out, value int, volts uint8) {
	if !validOutput(out) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeBendValue(out, value, volts)
}

// WriteRawVolts writes a whole number of volts.
func (e *Engine) WriteRawVolts(out int, volts uint8) {
	if !validOutput(out) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeRawVolts(out, volts)
}
