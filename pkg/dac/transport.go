package dac

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate of the serial I2C bridge
const DefaultBaudRate = 115200

// MaxFrame is the largest frame the serial bridge accepts.
const MaxFrame = 255

// SerialTransport sends frames to a microcontroller bridging a serial port
// onto the I2C bus. Each frame is prefixed with its length.
type SerialTransport struct {
	port serial.Port
	mu   sync.Mutex
}

// OpenSerial opens a serial bridge.
func OpenSerial(portName string, baud int) (*SerialTransport, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialTransport{port: port}, nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Send writes one length-prefixed frame.
func (s *SerialTransport) Send(frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxFrame {
		return ErrFrameSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.port.Write(append([]byte{byte(len(frame))}, frame...))
	return err
}

// Close closes the port.
func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// Recorder keeps every frame in memory.
type Recorder struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool

	// Err, when set, is returned by Send instead of recording.
	Err error
}

// Send records a copy of frame.
func (r *Recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Frames returns the recorded frames.
func (r *Recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Dump writes each frame as a line of hex.
type Dump struct {
	W io.Writer
}

// Send writes frame as hex.
func (d Dump) Send(frame []byte) error {
	_, err := fmt.Fprintln(d.W, hex.EncodeToString(frame))
	return err
}

// Close does nothing.
func (d Dump) Close() error { return nil }
