package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/notestack"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.DAC.Address != 0x60 {
		t.Errorf("DAC.Address = 0x%02x, want 0x60", cfg.DAC.Address)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.MIDI.InPort = "USB MIDI"
	cfg.MIDI.NRPNChannel = 16
	cfg.DAC.SerialPort = "/dev/ttyACM0"
	cfg.DAC.FlushInterval = 5 * time.Millisecond

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.MIDI.InPort != "USB MIDI" || got.MIDI.NRPNChannel != 16 {
		t.Errorf("MIDI = %+v, want port USB MIDI on channel 16", got.MIDI)
	}
	if got.DAC.SerialPort != "/dev/ttyACM0" || got.DAC.FlushInterval != 5*time.Millisecond {
		t.Errorf("DAC = %+v", got.DAC)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("apiPort: 9000\ndac:\n  flushInterval: 2ms\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("APIPort = %d, want 9000", cfg.APIPort)
	}
	if cfg.DAC.FlushInterval != 2*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 2ms", cfg.DAC.FlushInterval)
	}
	if cfg.DAC.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want default 115200", cfg.DAC.BaudRate)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"nrpn channel", "midi:\n  nrpnChannel: 17\n"},
		{"stack channel", "midi:\n  stackChannels: [1, 2, 3, 20]\n"},
		{"stack count", "midi:\n  stackChannels: [1, 2]\n"},
		{"address", "dac:\n  address: 200\n"},
		{"interval", "dac:\n  flushInterval: 0s\n"},
		{"syntax", "midi: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestApplyStacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MIDI.StackChannels = []int{0, 10, 3, 4}
	cfg.MIDI.BendRange = 12

	b := notestack.NewBank()
	cfg.ApplyStacks(b)

	if got := b.Channel(0); got != cv.AnyChannel {
		t.Errorf("stack 1 channel = %v, want any", got)
	}
	if got := b.Channel(1); got != 10 {
		t.Errorf("stack 2 channel = %v, want 10", got)
	}

	// full bend on channel 10 moves stack 2 by an octave
	b.PitchBend(9, cv.BendMax+1)
	if got := b.Stack(1).Bend; got != 12*256 {
		t.Errorf("stack 2 bend = %d, want %d", got, 12*256)
	}
}
