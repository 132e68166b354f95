// Package converter assembles a complete MIDI to CV converter: note stacks,
// the CV engine, the MIDI router and the DAC driver.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/james-see/midicv/pkg/config"
	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/dac"
	"github.com/james-see/midicv/pkg/debug"
	"github.com/james-see/midicv/pkg/midiin"
	"github.com/james-see/midicv/pkg/notestack"
	"github.com/james-see/midicv/pkg/patch"
)

// Format represents a file format
type Format string

const (
	FormatMIDI    Format = "midi"
	FormatSyx     Format = "syx"
	FormatYAML    Format = "yaml"
	FormatUnknown Format = "unknown"
)

// DetectFormat detects the format of a file based on extension
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mid", ".midi":
		return FormatMIDI
	case ".syx":
		return FormatSyx
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// DetectFormatFromContent detects format from file content
func DetectFormatFromContent(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}
	// MIDI file signature "MThd"
	if string(data[:4]) == "MThd" {
		return FormatMIDI
	}
	if data[0] == patch.SysExStart {
		return FormatSyx
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "outputs:") {
		return FormatYAML
	}
	return FormatUnknown
}

// Converter is a running converter instance
type Converter struct {
	Config *config.Config
	Stacks *notestack.Bank
	Engine *cv.Engine
	Router *midiin.Router
	Driver *dac.Driver
}

// OpenTransport opens the serial bridge named in cfg. Without one, frames
// are written as hex to dump, or discarded if dump is nil.
func OpenTransport(cfg *config.Config, dump io.Writer) (dac.Transport, error) {
	if cfg.DAC.SerialPort != "" {
		return dac.OpenSerial(cfg.DAC.SerialPort, cfg.DAC.BaudRate)
	}
	if dump == nil {
		dump = io.Discard
	}
	return dac.Dump{W: dump}, nil
}

// New builds a converter, runs the DAC setup, loads the startup patch named
// in cfg, if any, and puts all outputs in their safe state.
func New(cfg *config.Config, transport dac.Transport) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stacks := notestack.NewBank()
	cfg.ApplyStacks(stacks)
	engine := cv.New(stacks)

	c := &Converter{
		Config: cfg,
		Stacks: stacks,
		Engine: engine,
		Router: midiin.NewRouter(engine, stacks, cfg.NRPN()),
		Driver: dac.NewDriver(transport, cfg.DAC.Address),
	}
	if err := engine.Initialize(c.Driver); err != nil {
		return nil, err
	}
	if cfg.Patch != "" {
		if err := c.open(cfg.Patch); err != nil {
			return nil, err
		}
	}
	// every output goes out once, at its safe level
	engine.ResetToSafeState()
	return c, nil
}

// Open loads a .syx or .yaml patch into the engine and resets the outputs
// to their safe state.
func (c *Converter) Open(filename string) error {
	if err := c.open(filename); err != nil {
		return err
	}
	c.Engine.ResetToSafeState()
	return nil
}

func (c *Converter) open(filename string) error {
	format := DetectFormat(filename)
	if format == FormatUnknown {
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		format = DetectFormatFromContent(data)
	}

	switch format {
	case FormatSyx:
		return patch.Load(c.Engine, filename)
	case FormatYAML:
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		sources, err := patch.UnmarshalYAML(data)
		if err != nil {
			return err
		}
		return c.Engine.LoadSources(sources)
	}
	return fmt.Errorf("%s is not a patch file", filename)
}

// Run transmits pending output changes until ctx is cancelled.
func (c *Converter) Run(ctx context.Context) error {
	return c.Driver.Run(ctx, c.Engine, c.Config.DAC.FlushInterval)
}

// Close releases the DAC transport. It is not needed after Run returns.
func (c *Converter) Close() error {
	return c.Driver.Close()
}

// Play routes a MIDI file through the converter, flushing the DAC after
// every step. onStep sees the codes as transmitted.
func (c *Converter) Play(filename string, onStep func(midiin.Step, [cv.NumOutputs]uint16)) (midiin.Summary, error) {
	var flushErr error
	summary, err := midiin.NewPlayer(c.Router).PlayFile(filename, func(step midiin.Step) {
		if _, err := c.Driver.Flush(c.Engine); err != nil && flushErr == nil {
			flushErr = err
		}
		if onStep != nil {
			onStep(step, c.Engine.Codes())
		}
	})
	if err != nil {
		return summary, err
	}
	return summary, flushErr
}

// ErrNoPort is returned when no MIDI input matches.
var ErrNoPort = errors.New("MIDI input port not found")

// Listen feeds a MIDI input port into the converter until ctx is cancelled.
// An empty name selects the configured port, or the first one present.
func (c *Converter) Listen(ctx context.Context, portName string) error {
	if portName == "" {
		portName = c.Config.MIDI.InPort
	}

	var in drivers.In
	if portName != "" {
		p, err := midi.FindInPort(portName)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNoPort, portName)
		}
		in = p
	} else {
		ports := midi.GetInPorts()
		if len(ports) == 0 {
			return ErrNoPort
		}
		in = ports[0]
	}

	// timing clock is filtered with time code unless asked for
	stop, err := midi.ListenTo(in, c.Router.HandleMessage, midi.UseTimeCode())
	if err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}
	debug.Log(debug.MIDI, "listening on %s", in.String())

	<-ctx.Done()
	stop()
	return nil
}
