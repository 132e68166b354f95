// Package config loads and saves the application settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/dac"
	"github.com/james-see/midicv/pkg/notestack"
)

// MIDIConfig selects the MIDI input and how it is interpreted
type MIDIConfig struct {
	InPort        string `yaml:"inPort,omitempty"`
	NRPNChannel   int    `yaml:"nrpnChannel"`        // 0 = any
	StackChannels []int  `yaml:"stackChannels,flow"` // one per note stack, 0 = any
	BendRange     uint8  `yaml:"bendRange"`          // semitones
}

// DACConfig selects the DAC transport
type DACConfig struct {
	SerialPort    string        `yaml:"serialPort,omitempty"`
	BaudRate      int           `yaml:"baudRate"`
	Address       uint8         `yaml:"address"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// Config is the main configuration structure
type Config struct {
	MIDI    MIDIConfig `yaml:"midi"`
	DAC     DACConfig  `yaml:"dac"`
	APIPort int        `yaml:"apiPort"`
	Patch   string     `yaml:"patch,omitempty"` // .syx loaded at startup
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MIDI: MIDIConfig{
			StackChannels: []int{1, 2, 3, 4},
			BendRange:     2,
		},
		DAC: DACConfig{
			BaudRate:      dac.DefaultBaudRate,
			Address:       dac.DefaultAddress,
			FlushInterval: time.Millisecond,
		},
		APIPort: 8080,
	}
}

// Dir returns the config directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "midicv"), nil
}

// Path returns the full path to config.yaml
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config from path, or from the default location when path
// is empty. Defaults are returned if the file does not exist; values missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, or to the default location when path is
// empty.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MIDI.NRPNChannel < 0 || c.MIDI.NRPNChannel > 16 {
		return fmt.Errorf("nrpnChannel %d out of range 0-16", c.MIDI.NRPNChannel)
	}
	if len(c.MIDI.StackChannels) != cv.NumStacks {
		return fmt.Errorf("stackChannels needs %d entries, got %d", cv.NumStacks, len(c.MIDI.StackChannels))
	}
	for i, ch := range c.MIDI.StackChannels {
		if ch < 0 || ch > 16 {
			return fmt.Errorf("stack %d channel %d out of range 0-16", i+1, ch)
		}
	}
	if c.MIDI.BendRange > 24 {
		return fmt.Errorf("bendRange %d out of range 0-24", c.MIDI.BendRange)
	}
	if c.DAC.Address > 0x7F {
		return fmt.Errorf("DAC address 0x%02x is not a 7-bit I2C address", c.DAC.Address)
	}
	if c.DAC.FlushInterval <= 0 {
		return errors.New("flushInterval must be positive")
	}
	return nil
}

// NRPN returns the configured reconfiguration channel.
func (c *Config) NRPN() cv.MIDIChannel {
	return cv.MIDIChannel(c.MIDI.NRPNChannel)
}

// ApplyStacks sets the channel and bend range of every note stack.
func (c *Config) ApplyStacks(b *notestack.Bank) {
	for id, ch := range c.MIDI.StackChannels {
		b.SetChannel(id, cv.MIDIChannel(ch))
		b.SetBendRange(id, c.MIDI.BendRange)
	}
}
