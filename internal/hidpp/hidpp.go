// Package hidpp implements the protocol mechanics shared by HID++ 1.0 and
// HID++ 2.0: the short/long report envelopes, HID++ 2.0's function/software
// id packing, the common LED effect payload encoding, and the CCITT-16 CRC
// used by onboard-profile EEPROM sectors. Neither hidpp10 nor hidpp20
// "extends" this package; they both call into it as shared plumbing.
package hidpp

import (
	"github.com/hidctl/mousectld/internal/driverr"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	// ReportIDShort is the report id of a 7-byte HID++ report.
	ReportIDShort = 0x10
	// ReportIDLong is the report id of a 20-byte HID++ report.
	ReportIDLong = 0x11

	// ShortReportSize is the total length of a short report, including the
	// report id byte.
	ShortReportSize = 7
	// LongReportSize is the total length of a long report, including the
	// report id byte.
	LongReportSize = 20

	// ErrorSubIDShort is the sub-id a device uses to signal an error in
	// response to a short report.
	ErrorSubIDShort = 0x8F
	// ErrorSubIDLong is the sub-id a device uses to signal an error in
	// response to a long report.
	ErrorSubIDLong = 0xFF
)

// Short is a parsed 7-byte HID++ report: [0x10, device_index, sub_id,
// address, p0, p1, p2].
type Short struct {
	DeviceIndex byte
	SubID       byte
	Address     byte
	Params      [3]byte
}

// BuildShort serializes s into its wire form.
func BuildShort(s Short) []byte {
	return []byte{ReportIDShort, s.DeviceIndex, s.SubID, s.Address, s.Params[0], s.Params[1], s.Params[2]}
}

// ParseShort decodes buf as a short report. ok is false if buf is too short
// or its report id does not match.
func ParseShort(buf []byte) (s Short, ok bool) {
	if len(buf) < ShortReportSize || buf[0] != ReportIDShort {
		return Short{}, false
	}
	return Short{
		DeviceIndex: buf[1],
		SubID:       buf[2],
		Address:     buf[3],
		Params:      [3]byte{buf[4], buf[5], buf[6]},
	}, true
}

// IsError reports whether s is an error response.
func (s Short) IsError() bool { return s.SubID == ErrorSubIDShort }

// Long is a parsed 20-byte HID++ report: [0x11, device_index, sub_id,
// address, p0..p15].
type Long struct {
	DeviceIndex byte
	SubID       byte
	Address     byte
	Params      [16]byte
}

// BuildLong serializes l into its wire form.
func BuildLong(l Long) []byte {
	out := make([]byte, LongReportSize)
	out[0] = ReportIDLong
	out[1] = l.DeviceIndex
	out[2] = l.SubID
	out[3] = l.Address
	copy(out[4:], l.Params[:])
	return out
}

// ParseLong decodes buf as a long report. ok is false if buf is too short
// or its report id does not match.
func ParseLong(buf []byte) (l Long, ok bool) {
	if len(buf) < LongReportSize || buf[0] != ReportIDLong {
		return Long{}, false
	}
	var params [16]byte
	copy(params[:], buf[4:20])
	return Long{
		DeviceIndex: buf[1],
		SubID:       buf[2],
		Address:     buf[3],
		Params:      params,
	}, true
}

// IsError reports whether l is an error response.
func (l Long) IsError() bool { return l.SubID == ErrorSubIDLong }

// SoftwareID is the constant 4-bit software identifier HID++ 2.0 requests
// are tagged with.
const SoftwareID = 0x04

// EncodeFunctionCall packs a HID++ 2.0 function number and the constant
// software id into a long report's address byte.
func EncodeFunctionCall(function byte) byte {
	return (function << 4) | (SoftwareID & 0x0F)
}

// DecodeFunction extracts the function number from a long report's address
// byte.
func DecodeFunction(address byte) byte {
	return address >> 4
}

// LEDPayloadSize is the length of the shared 11-byte LED effect payload.
const LEDPayloadSize = 11

// BuildLEDPayload encodes mode and its parameters into the 11-byte payload
// shared by HID++ 2.0's Color LED Effects (0x8070) and RGB Effects (0x8071)
// features. durationMS is clamped to [0, 10000] and brightness to [0, 255]
// by the caller (model.ProfileInfo's SetLEDEffectDuration and
// SetLEDBrightness); this function assumes valid
// inputs and only maps them onto the wire.
func BuildLEDPayload(mode model.LedMode, primary, secondary, tertiary model.RGB, durationMS uint32, brightness uint32) ([LEDPayloadSize]byte, error) {
	var out [LEDPayloadSize]byte
	brightnessPct := byte(brightness * 100 / 255)
	periodHi := byte(durationMS >> 8)
	periodLo := byte(durationMS)

	switch mode {
	case model.LedOff:
		// all zero
	case model.LedSolid:
		out[0] = 0x01
		out[1], out[2], out[3] = primary.R, primary.G, primary.B
	case model.LedCycle:
		out[0] = 0x03
		out[6], out[7] = periodHi, periodLo
		out[8] = brightnessPct
	case model.LedColorWave:
		out[0] = 0x04
		out[6], out[7] = periodHi, periodLo
		out[8] = brightnessPct
	case model.LedStarlight:
		out[0] = 0x05
		out[1], out[2], out[3] = primary.R, primary.G, primary.B
		out[4], out[5], out[6] = secondary.R, secondary.G, secondary.B
	case model.LedBreathing:
		out[0] = 0x0A
		out[1], out[2], out[3] = primary.R, primary.G, primary.B
		out[4], out[5] = periodHi, periodLo
		out[6] = 0x00 // waveform
		out[7] = brightnessPct
	case model.LedTriColor:
		out[0] = 0x01
		out[1], out[2], out[3] = primary.R, primary.G, primary.B
		out[4], out[5], out[6] = secondary.R, secondary.G, secondary.B
		out[7], out[8], out[9] = tertiary.R, tertiary.G, tertiary.B
	default:
		return out, driverr.InvalidArgs("unsupported LED mode %d", mode)
	}
	return out, nil
}

// crc16CCITTTable-free bitwise CCITT-16 (polynomial 0x1021, init 0xFFFF),
// used to checksum HID++ 2.0 onboard-profile EEPROM sectors.
func CRC16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
