// Package logitechg300 implements the Logitech G300's 3-profile EEPROM
// register model: one active-configuration readback report and one
// fixed-layout profile report per stored profile.
package logitechg300

import (
	"time"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	profileMax = 2
	buttonMax  = 8
	numDPI     = 4

	reportIDGetActive = 0xF0
	reportIDProfile0  = 0xF3
	reportIDProfile1  = 0xF4
	reportIDProfile2  = 0xF5

	reportSizeActive  = 4
	reportSizeProfile = 35

	readTimeout = 500 * time.Millisecond
)

var profileReportIDs = [profileMax + 1]byte{reportIDProfile0, reportIDProfile1, reportIDProfile2}

func init() {
	driverapi.Register("logitech_g300", func() driverapi.Driver { return New() })
}

// resolution is one DPI slot's packed bitfield: 7 bits of DPI step, 1 bit
// marking it the power-on default.
type resolution struct {
	bitfield byte
}

// button is one button's 3-byte descriptor.
type button struct {
	code     byte
	modifier byte
	key      byte
}

// profileReport is the 35-byte per-profile EEPROM record.
type profileReport struct {
	id          byte
	bitfieldLED byte
	frequency   byte
	dpiLevels   [numDPI]resolution
	unknown2    byte
	buttons     [buttonMax + 1]button
}

func (r profileReport) intoBytes() []byte {
	buf := make([]byte, reportSizeProfile)
	buf[0] = r.id
	buf[1] = r.bitfieldLED
	buf[2] = r.frequency
	for i := 0; i < numDPI; i++ {
		buf[3+i] = r.dpiLevels[i].bitfield
	}
	buf[7] = r.unknown2
	offset := 8
	for _, btn := range r.buttons {
		buf[offset] = btn.code
		buf[offset+1] = btn.modifier
		buf[offset+2] = btn.key
		offset += 3
	}
	return buf
}

func profileFromBytes(buf []byte) profileReport {
	var r profileReport
	r.id = buf[0]
	r.bitfieldLED = buf[1]
	r.frequency = buf[2]
	for i := 0; i < numDPI; i++ {
		r.dpiLevels[i].bitfield = buf[3+i]
	}
	r.unknown2 = buf[7]
	offset := 8
	for i := range r.buttons {
		r.buttons[i] = button{code: buf[offset], modifier: buf[offset+1], key: buf[offset+2]}
		offset += 3
	}
	return r
}

// Driver implements the 3-profile G300 register model.
type Driver struct{}

// New constructs a Driver.
func New() *Driver { return &Driver{} }

// Name returns the driver's registry name.
func (d *Driver) Name() string { return "logitech_g300" }

// Probe is a no-op: the G300 has no discoverable protocol version.
func (d *Driver) Probe(io *hidio.Device) error { return nil }

func frequencyToRate(f byte) uint32 {
	switch f {
	case 1:
		return 125
	case 2:
		return 250
	case 3:
		return 500
	default:
		return 1000
	}
}

func rateToFrequency(rate uint32) byte {
	switch rate {
	case 125:
		return 1
	case 250:
		return 2
	case 500:
		return 3
	default:
		return 0
	}
}

// LoadProfiles reads the active-configuration report to locate the
// currently selected profile/resolution, then publishes a 3-profile,
// 4-resolution, 9-button skeleton with that selection marked active. The
// G300's profile reports carry no DPI value table, so resolutions surface
// as model.DPIUnknown, matching the original's readback.
func (d *Driver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	var activeIdx, activeRes byte
	if err := io.Write([]byte{reportIDGetActive, 0, 0, 0}); err == nil {
		buf := make([]byte, reportSizeActive)
		if n, err := io.Read(buf, readTimeout); err == nil && n == reportSizeActive {
			activeIdx = buf[3] & 0x0F
			activeRes = buf[2] & 0x07
		}
	}

	info.Profiles = nil
	for pid := uint32(0); pid <= profileMax; pid++ {
		profile := model.ProfileInfo{
			Index:       pid,
			Name:        "",
			Active:      pid == uint32(activeIdx),
			Enabled:     true,
			ReportRate:  1000,
			ReportRates: []uint32{125, 250, 500, 1000},
			AngleSnap:   -1,
			Debounce:    -1,
		}
		for rid := uint32(0); rid < numDPI; rid++ {
			profile.Resolutions = append(profile.Resolutions, model.ResolutionInfo{
				Index:  rid,
				Active: pid == uint32(activeIdx) && rid == uint32(activeRes),
				DPI:    model.DPI{Kind: model.DPIUnknown},
			})
		}
		for bid := uint32(0); bid <= buttonMax; bid++ {
			profile.Buttons = append(profile.Buttons, model.ButtonInfo{
				Index:       bid,
				ActionType:  model.ActionUnknown,
				ActionTypes: []uint32{0, 1, 2, 3, 4},
			})
		}
		profile.LEDs = append(profile.LEDs, model.LedInfo{
			Mode:       model.LedSolid,
			Brightness: 255,
		})
		info.Profiles = append(info.Profiles, profile)
	}
	return nil
}

// Commit writes a full profile report for every dirty profile: button
// descriptors, report rate and the three-bit on/off LED color encoding
// (thresholded at half brightness per channel, matching the original).
func (d *Driver) Commit(io *hidio.Device, info *model.DeviceInfo) error {
	for _, profile := range info.Profiles {
		if !profile.Dirty || profile.Index > profileMax {
			continue
		}

		report := profileReport{
			id:        profileReportIDs[profile.Index],
			frequency: rateToFrequency(profile.ReportRate),
		}

		for _, btn := range profile.Buttons {
			if btn.Index > buttonMax {
				continue
			}
			var data button
			switch btn.ActionType {
			case model.ActionButton:
				if v := btn.MappingValue; v >= 1 && v <= 9 {
					data.code = byte(v)
				}
			case model.ActionSpecial:
				switch btn.MappingValue {
				case 2:
					data.code = 0x0A
				case 3:
					data.code = 0x0B
				default:
					data.code = 0x0C
				}
			case model.ActionKey, model.ActionMacro:
				data.key = byte(btn.MappingValue % 256)
			}
			report.buttons[btn.Index] = data
		}

		if len(profile.LEDs) > 0 {
			c := profile.LEDs[0].Color
			var field byte
			if c.Red > 127 {
				field |= 0x01
			}
			if c.Green > 127 {
				field |= 0x02
			}
			if c.Blue > 127 {
				field |= 0x04
			}
			report.bitfieldLED = field
		}

		if err := io.Write(report.intoBytes()); err != nil {
			return err
		}
	}
	return nil
}
