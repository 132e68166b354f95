package notestack

import (
	"reflect"
	"testing"

	"github.com/james-see/midicv/pkg/cv"
)

func TestNoteOnFillsSlotsNewestFirst(t *testing.T) {
	b := NewBank()

	b.NoteOn(0, 60, 100)
	b.NoteOn(0, 64, 90)
	events := b.NoteOn(0, 67, 80)

	want := []Event{{0, cv.SlotA}, {0, cv.SlotB}, {0, cv.SlotC}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("NoteOn() events = %v, want %v", events, want)
	}

	state := b.Stack(0)
	if state.Slots != [cv.NumSlots]int{67, 64, 60, 0} {
		t.Errorf("Slots = %v, want [67 64 60 0]", state.Slots)
	}
	if state.Velocity != 80 {
		t.Errorf("Velocity = %d, want 80", state.Velocity)
	}
}

func TestNoteOnChannelFilter(t *testing.T) {
	b := NewBank()

	// MIDI channel 2 only reaches stack 2
	events := b.NoteOn(1, 48, 100)

	want := []Event{{1, cv.SlotA}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("NoteOn() events = %v, want %v", events, want)
	}
	if b.Held(0) != 0 {
		t.Error("stack 1 picked up a note from channel 2")
	}

	b.SetChannel(0, cv.AnyChannel)
	events = b.NoteOn(9, 50, 100)
	if len(events) != 1 || events[0].Stack != 0 {
		t.Errorf("NoteOn() on an omni stack = %v", events)
	}
}

func TestNoteOffFallsBackToHeldNote(t *testing.T) {
	b := NewBank()
	b.NoteOn(0, 60, 100)
	b.NoteOn(0, 64, 90)

	events := b.NoteOff(0, 64)

	want := []Event{{0, cv.SlotA}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("NoteOff() events = %v, want %v", events, want)
	}
	state := b.Stack(0)
	if state.Slots[0] != 60 {
		t.Errorf("slot A = %d, want 60", state.Slots[0])
	}
	if state.Velocity != 100 {
		t.Errorf("Velocity = %d, want 100", state.Velocity)
	}

	// releasing the last note keeps the pitch
	if events := b.NoteOff(0, 60); len(events) != 0 {
		t.Errorf("NoteOff() of last note events = %v, want none", events)
	}
	if got := b.Stack(0).Slots[0]; got != 60 {
		t.Errorf("slot A after release = %d, want 60", got)
	}
}

func TestNoteOnZeroVelocityReleases(t *testing.T) {
	b := NewBank()
	b.NoteOn(0, 60, 100)
	b.NoteOn(0, 60, 0)
	if got := b.Held(0); got != 0 {
		t.Errorf("Held() = %d, want 0", got)
	}
}

func TestHeldLimit(t *testing.T) {
	b := NewBank()
	for n := 0; n < MaxHeld+4; n++ {
		b.NoteOn(0, uint8(40+n), 100)
	}
	if got := b.Held(0); got != MaxHeld {
		t.Errorf("Held() = %d, want %d", got, MaxHeld)
	}
}

func TestPitchBend(t *testing.T) {
	tests := []struct {
		value int
		rng   uint8
		want  int
	}{
		{cv.BendCenter, 2, 0},
		{0, 2, -512},
		{12288, 2, 256},
		{0, 12, -3072},
	}

	for _, tt := range tests {
		b := NewBank()
		b.SetBendRange(0, tt.rng)
		b.PitchBend(0, tt.value)
		if got := b.Stack(0).Bend; got != tt.want {
			t.Errorf("PitchBend(%d) range %d bend = %d, want %d", tt.value, tt.rng, got, tt.want)
		}
	}
}

func TestPitchBendOnlyReportsChanges(t *testing.T) {
	b := NewBank()
	if events := b.PitchBend(0, 12288); len(events) != 1 {
		t.Fatalf("PitchBend() events = %v, want one", events)
	}
	if events := b.PitchBend(0, 12288); len(events) != 0 {
		t.Errorf("repeated PitchBend() events = %v, want none", events)
	}
}

func TestReset(t *testing.T) {
	b := NewBank()
	b.NoteOn(0, 60, 100)
	b.PitchBend(0, 0)
	b.Reset()
	if b.Held(0) != 0 || b.Stack(0).Bend != 0 {
		t.Error("Reset() kept held notes or bend")
	}
}
