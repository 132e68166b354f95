package midiin

import (
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/midicv/pkg/cv"
)

// NRPN controller numbers
const (
	CCDataEntryMSB = 6
	CCDataEntryLSB = 38
	CCNRPNLSB      = 98
	CCNRPNMSB      = 99
	CCRPNLSB       = 100
	CCRPNMSB       = 101
)

// OutputBase is the NRPN parameter MSB addressing CV output 1.
const OutputBase = 0x10

// Request is a decoded reconfiguration request
type Request struct {
	Output int
	Param  cv.Param
	Hi, Lo uint8
}

type nrpnState struct {
	paramMSB, paramLSB int
	valueMSB           int
}

// NRPNDecoder assembles NRPN controller sequences into reconfiguration
// requests. The request is complete when the data entry LSB arrives.
type NRPNDecoder struct {
	Channel cv.MIDIChannel
	state   [16]nrpnState
}

// NewNRPNDecoder creates a decoder listening on ch.
func NewNRPNDecoder(ch cv.MIDIChannel) *NRPNDecoder {
	d := &NRPNDecoder{Channel: ch}
	for i := range d.state {
		d.state[i] = nrpnState{paramMSB: -1, paramLSB: -1, valueMSB: -1}
	}
	return d
}

// IsNRPN reports whether a controller number belongs to the parameter
// number protocol and should not be routed to CC outputs.
func IsNRPN(cc uint8) bool {
	switch cc {
	case CCDataEntryMSB, CCDataEntryLSB, CCNRPNLSB, CCNRPNMSB, CCRPNLSB, CCRPNMSB:
		return true
	}
	return false
}

// Control feeds one controller message and returns a request once complete.
func (d *NRPNDecoder) Control(ch, cc, value uint8) (Request, bool) {
	if ch > 15 || !d.Channel.Matches(ch) {
		return Request{}, false
	}
	s := &d.state[ch]
	switch cc {
	case CCNRPNMSB:
		s.paramMSB, s.valueMSB = int(value), -1
	case CCNRPNLSB:
		s.paramLSB, s.valueMSB = int(value), -1
	case CCRPNMSB, CCRPNLSB:
		// an RPN selection deselects the NRPN
		s.paramMSB, s.paramLSB, s.valueMSB = -1, -1, -1
	case CCDataEntryMSB:
		s.valueMSB = int(value)
	case CCDataEntryLSB:
		if s.paramMSB < OutputBase || s.paramMSB >= OutputBase+cv.NumOutputs || s.paramLSB < 0 || s.valueMSB < 0 {
			return Request{}, false
		}
		return Request{
			Output: s.paramMSB - OutputBase,
			Param:  cv.Param(s.paramLSB),
			Hi:     uint8(s.valueMSB),
			Lo:     value,
		}, true
	}
	return Request{}, false
}

// Encode returns the controller messages that carry req on channel ch
// (0-based), ending with an RPN null so later data entry is ignored.
func Encode(ch uint8, req Request) []midi.Message {
	return []midi.Message{
		midi.ControlChange(ch, CCNRPNMSB, uint8(OutputBase+req.Output)),
		midi.ControlChange(ch, CCNRPNLSB, uint8(req.Param)),
		midi.ControlChange(ch, CCDataEntryMSB, req.Hi&0x7F),
		midi.ControlChange(ch, CCDataEntryLSB, req.Lo&0x7F),
		midi.ControlChange(ch, CCRPNMSB, 0x7F),
		midi.ControlChange(ch, CCRPNLSB, 0x7F),
	}
}
