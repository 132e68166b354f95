package cv

// foldNote moves a note into [0, NoteWindow] by whole octaves.
func foldNote(note int) int {
	for note < 0 {
		note += 12
	}
	for note > NoteWindow {
		note -= 12
	}
	return note
}

// OnNoteStackEvent updates every output listening to the stack that raised
// the event.
func (e *Engine) OnNoteStackEvent(ev StackEvent, stack int) {
	if e.stacks == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var state StackState
	var loaded bool
	for out := 0; out < NumOutputs; out++ {
		switch src := e.sources[out].(type) {
		case NoteSource:
			if int(src.Stack) != stack {
				continue
			}
			if !loaded {
				state, loaded = e.stacks.Stack(stack), true
			}
			switch {
			case ev.IsSlot():
				if int(src.Slot) != int(ev) {
					continue
				}
				e.notes[out] = foldNote(state.Slots[src.Slot] + int(src.Transpose) - NoteOffset)
				e.writeNote(out, e.notes[out], state.Bend)
			case ev == BendUpdate:
				e.writeNote(out, e.notes[out], state.Bend)
			}
		case VelocitySource:
			if int(src.Stack) != stack || !ev.IsSlot() {
				continue
			}
			if !loaded {
				state, loaded = e.stacks.Stack(stack), true
			}
			e.writeControllerValue(out, state.Velocity, src.Volts)
		}
	}
}

// OnMIDICC updates outputs bound to controller cc on a matching channel.
func (e *Engine) OnMIDICC(ch, cc, value uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for out := 0; out < NumOutputs; out++ {
		src, ok := e.sources[out].(ControllerSource)
		if !ok || src.Controller != cc || !src.Channel.Matches(ch) {
			continue
		}
		e.writeControllerValue(out, value, src.Volts)
	}
}

// OnMIDIAftertouch updates outputs bound to channel pressure.
func (e *Engine) OnMIDIAftertouch(ch, value uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for out := 0; out < NumOutputs; out++ {
		src, ok := e.sources[out].(AftertouchSource)
		if !ok || !src.Channel.Matches(ch) {
			continue
		}
		e.writeControllerValue(out, value, src.Volts)
	}
}

// OnMIDIPitchBend updates outputs bound to pitch bend. value is the raw
// 14-bit bend, 8192 being centre.
func (e *Engine) OnMIDIPitchBend(ch uint8, value int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for out := 0; out < NumOutputs; out++ {
		src, ok := e.sources[out].(PitchBendSource)
		if !ok || !src.Channel.Matches(ch) {
			continue
		}
		e.writeBendValue(out, value, src.Volts)
	}
}

// OnTempoTick updates tempo outputs. bpm256 is the tempo in BPM scaled by 256.
func (e *Engine) OnTempoTick(bpm256 int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for out := 0; out < NumOutputs; out++ {
		src, ok := e.sources[out].(TempoSource)
		if !ok {
			continue
		}
		e.commit(out, tempoCode(bpm256, src.Volts))
	}
}
