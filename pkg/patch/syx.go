// Package patch stores output configurations as SysEx patch dumps and
// renders them as YAML.
package patch

import (
	"errors"
	"fmt"
	"os"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/debug"
)

// SysEx framing
const (
	SysExStart = 0xF0
	SysExEnd   = 0xF7

	ManufID = 0x7D // non-commercial
	CmdDump = 0x01

	headerLen = 3
	// Size of a complete patch dump
	Size = headerLen + 2*cv.BlobSize + 1 + 1
)

var header = [headerLen]byte{SysExStart, ManufID, CmdDump}

// Errors returned when decoding a dump
var (
	ErrTooShort = errors.New("patch dump too short")
	ErrHeader   = errors.New("not a patch dump")
	ErrChecksum = errors.New("patch checksum mismatch")
)

// Encode wraps a configuration blob in a SysEx dump. Each byte is split into
// two nibbles so the payload stays 7-bit clean.
func Encode(blob []byte) []byte {
	syx := make([]byte, 0, headerLen+2*len(blob)+2)
	syx = append(syx, header[:]...)

	var checksum uint8
	for _, b := range blob {
		hi, lo := b>>4, b&0x0F
		syx = append(syx, hi, lo)
		checksum ^= hi ^ lo
	}
	syx = append(syx, checksum&0x7F, SysExEnd)
	return syx
}

// Decode validates a dump and returns the configuration blob it carries.
// The blob itself is validated as well.
func Decode(syx []byte) ([]byte, error) {
	if len(syx) < headerLen+2 {
		return nil, ErrTooShort
	}
	for i, b := range header {
		if syx[i] != b {
			return nil, fmt.Errorf("%w: byte %d is 0x%02X, want 0x%02X", ErrHeader, i, syx[i], b)
		}
	}
	if syx[len(syx)-1] != SysExEnd {
		return nil, fmt.Errorf("invalid SysEx: expected end byte 0x%02X, got 0x%02X", SysExEnd, syx[len(syx)-1])
	}
	payload := syx[headerLen : len(syx)-2]
	if len(payload) != 2*cv.BlobSize {
		return nil, fmt.Errorf("%w: payload has %d bytes, want %d", cv.ErrBlobSize, len(payload), 2*cv.BlobSize)
	}

	blob := make([]byte, cv.BlobSize)
	var checksum uint8
	for i := range blob {
		hi, lo := payload[2*i], payload[2*i+1]
		if hi > 0x0F || lo > 0x0F {
			return nil, fmt.Errorf("invalid SysEx: nibble at position %d out of range", headerLen+2*i)
		}
		blob[i] = hi<<4 | lo
		checksum ^= hi ^ lo
	}
	if want := syx[len(syx)-2]; checksum != want {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, checksum, want)
	}

	if _, err := cv.DecodeConfiguration(blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// Export returns the engine's configuration as a dump.
func Export(e *cv.Engine) []byte {
	return Encode(e.ExportConfiguration())
}

// Import loads a dump into the engine. Nothing changes on error.
func Import(e *cv.Engine, syx []byte) error {
	blob, err := Decode(syx)
	if err != nil {
		return err
	}
	return e.ImportConfiguration(blob)
}

// Save writes the engine's configuration to a .syx file.
func Save(e *cv.Engine, filename string) error {
	if err := os.WriteFile(filename, Export(e), 0644); err != nil {
		return fmt.Errorf("failed to write patch: %w", err)
	}
	debug.Log(debug.Patch, "saved %s", filename)
	return nil
}

// Load reads a .syx file into the engine.
func Load(e *cv.Engine, filename string) error {
	syx, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read patch: %w", err)
	}
	if err := Import(e, syx); err != nil {
		return fmt.Errorf("failed to load patch %s: %w", filename, err)
	}
	debug.Log(debug.Patch, "loaded %s", filename)
	return nil
}

// ReadFile decodes the bindings stored in a .syx file without an engine.
func ReadFile(filename string) ([cv.NumOutputs]cv.Source, error) {
	var sources [cv.NumOutputs]cv.Source
	syx, err := os.ReadFile(filename)
	if err != nil {
		return sources, fmt.Errorf("failed to read patch: %w", err)
	}
	blob, err := Decode(syx)
	if err != nil {
		return sources, err
	}
	return cv.DecodeConfiguration(blob)
}
