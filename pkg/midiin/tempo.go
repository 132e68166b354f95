package midiin

import "time"

// ClocksPerBeat is the MIDI clock resolution
const ClocksPerBeat = 24

// TempoMeter measures the tempo of incoming MIDI clock, reporting it once
// per beat as BPM scaled by 256.
type TempoMeter struct {
	count   int
	started bool
	start   time.Duration
}

// Clock records a timing clock message received at the given time and
// returns the tempo when a full beat has been measured.
func (m *TempoMeter) Clock(at time.Duration) (int64, bool) {
	if !m.started {
		m.started, m.start, m.count = true, at, 0
		return 0, false
	}
	m.count++
	if m.count < ClocksPerBeat {
		return 0, false
	}
	beat := at - m.start
	m.start, m.count = at, 0
	if beat <= 0 {
		return 0, false
	}
	return int64(time.Minute) * 256 / int64(beat), true
}

// Reset forgets the running measurement, e.g. on MIDI start or stop.
func (m *TempoMeter) Reset() {
	m.started, m.count = false, 0
}

// TempoFromMicroseconds converts a tempo meta event value in microseconds
// per quarter note to BPM scaled by 256.
func TempoFromMicroseconds(usPerBeat uint32) int64 {
	if usPerBeat == 0 {
		return 0
	}
	return 60000000 * 256 / int64(usPerBeat)
}
