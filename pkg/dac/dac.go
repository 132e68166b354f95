// Package dac transmits engine output codes to an MCP4728 quad DAC.
package dac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/debug"
)

// MCP4728 constants
const (
	DefaultAddress = 0x60 // 7-bit I2C address with A2..A0 low
	FrameSize      = 1 + 2*cv.NumOutputs

	cmdInternalVref = 0x8F // all channels use the internal 2.048V reference
	cmdGainX2       = 0xCF // all channels at x2 gain
)

// ChannelMap lists the engine output feeding DAC channels A to D, as wired
// on the board.
var ChannelMap = [cv.NumOutputs]int{1, 3, 2, 0}

// ErrFrameSize is returned when a frame does not match the fast write layout.
var ErrFrameSize = errors.New("DAC frame has wrong size")

// Transport carries raw bus frames to the DAC. The first byte of each frame
// is the I2C address byte.
type Transport interface {
	Send(frame []byte) error
	Close() error
}

// MCP4728 encodes bus frames for one DAC.
type MCP4728 struct {
	Address uint8
}

// ConfigFrames returns the setup handshake sent once at initialisation.
func (m MCP4728) ConfigFrames() [][]byte {
	return [][]byte{
		{m.Address << 1, cmdInternalVref},
		{m.Address << 1, cmdGainX2},
	}
}

// Frame builds a fast write frame updating all four channels.
func (m MCP4728) Frame(codes [cv.NumOutputs]uint16) []byte {
	frame := make([]byte, 0, FrameSize)
	frame = append(frame, m.Address<<1)
	for _, out := range ChannelMap {
		code := codes[out]
		frame = append(frame, byte(code>>8)&0x0F, byte(code))
	}
	return frame
}

// Decode extracts the engine output codes from a fast write frame.
func (m MCP4728) Decode(frame []byte) ([cv.NumOutputs]uint16, error) {
	var codes [cv.NumOutputs]uint16
	if len(frame) != FrameSize {
		return codes, ErrFrameSize
	}
	if frame[0] != m.Address<<1 {
		return codes, fmt.Errorf("frame addressed to 0x%02x, want 0x%02x", frame[0]>>1, m.Address)
	}
	for i, out := range ChannelMap {
		codes[out] = uint16(frame[1+2*i]&0x0F)<<8 | uint16(frame[2+2*i])
	}
	return codes, nil
}

// Source is the side of the engine the driver consumes.
type Source interface {
	Pending() []cv.Update
	Codes() [cv.NumOutputs]uint16
	Acknowledge(batch []cv.Update)
}

// Driver moves pending output codes from the engine to a transport.
type Driver struct {
	transport Transport
	dac       MCP4728
	sent      int
	errors    int
}

// NewDriver creates a driver for the DAC at address.
func NewDriver(t Transport, address uint8) *Driver {
	return &Driver{transport: t, dac: MCP4728{Address: address}}
}

// Configure sends the setup handshake. It satisfies cv.HardwareConfigurer.
func (d *Driver) Configure() error {
	for _, frame := range d.dac.ConfigFrames() {
		if err := d.transport.Send(frame); err != nil {
			return fmt.Errorf("failed to send DAC setup: %w", err)
		}
	}
	debug.Log(debug.DAC, "configured DAC at 0x%02x", d.dac.Address)
	return nil
}

// Flush transmits a frame if any output is pending and acknowledges the
// codes the frame carried. It reports whether a frame went out. On error the
// updates stay pending for the next flush.
func (d *Driver) Flush(src Source) (bool, error) {
	if len(src.Pending()) == 0 {
		return false, nil
	}
	// the fast write carries every channel, so send the latest snapshot
	codes := src.Codes()
	if err := d.transport.Send(d.dac.Frame(codes)); err != nil {
		d.errors++
		debug.Log(debug.DAC, "send failed: %v", err)
		return false, fmt.Errorf("failed to send DAC frame: %w", err)
	}
	// outputs that moved on since the snapshot stay pending
	sent := make([]cv.Update, 0, cv.NumOutputs)
	for out, code := range codes {
		sent = append(sent, cv.Update{Output: out, Code: code})
	}
	src.Acknowledge(sent)
	d.sent++
	debug.LogEvery(64, debug.DAC, "frame %v", codes)
	return true, nil
}

// Stats returns the number of frames sent and failed sends.
func (d *Driver) Stats() (sent, failed int) {
	return d.sent, d.errors
}

// Close closes the transport.
func (d *Driver) Close() error {
	return d.transport.Close()
}

// Run flushes the engine every interval until ctx is cancelled, then closes
// the transport. Send errors are logged and retried on the next tick.
func (d *Driver) Run(ctx context.Context, src Source, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Flush(src)
			return d.Close()
		case <-ticker.C:
			d.Flush(src)
		}
	}
}
