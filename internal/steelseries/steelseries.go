// Package steelseries implements the SteelSeries mouse family's four wire
// protocol generations (versions 1-4), selected at runtime from the
// device-database entry's DeviceVersion field. SteelSeries devices rely on
// a software profile database rather than reporting their own state, so
// LoadProfiles mostly builds a default skeleton and only opportunistically
// overlays hardware readback where the protocol version supports it.
package steelseries

import (
	"fmt"
	"time"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	numProfiles = 1
	numDPI      = 2
	numButtons  = 6
	numLEDs     = 2

	reportSizeShort = 32
	reportSize      = 64
	reportLongSize  = 262

	idDPIShort       = 0x03
	idReportRateShort = 0x04
	idLEDEffectShort = 0x07
	idLEDColorShort  = 0x08
	idSaveShort      = 0x09
	idFirmwareV1     = 0x10

	idButtons    = 0x31
	idDPIv2      = 0x53
	idReportRateV2 = 0x54
	idLEDv2      = 0x5b
	idSaveV2     = 0x59
	idFirmwareV2 = 0x90
	idSettingsV2 = 0x92

	idDPIv3        = 0x03
	idReportRateV3 = 0x04
	idLEDv3        = 0x05
	idSaveV3       = 0x09
	idFirmwareV3   = 0x10
	idSettingsV3   = 0x16

	idDPIv4        = 0x15
	idReportRateV4 = 0x17

	buttonOff       = 0x00
	buttonResCycle  = 0x30
	buttonWheelUp   = 0x31
	buttonWheelDown = 0x32
	buttonKey       = 0x10
	buttonKbd       = 0x51

	buttonSizeSenseiRaw = 3
	buttonSizeStandard  = 5

	dpiMagicMarker = 0x42

	readTimeout = 500 * time.Millisecond
)

var modifierTable = [8]struct{ mask, code byte }{
	{0x01, 0xE0}, {0x02, 0xE1}, {0x04, 0xE2}, {0x08, 0xE3},
	{0x10, 0xE4}, {0x20, 0xE5}, {0x40, 0xE6}, {0x80, 0xE7},
}

func init() {
	driverapi.Register("steelseries", func() driverapi.Driver { return New() })
}

// Driver implements the SteelSeries 1/2/3/4 report formats.
type Driver struct {
	version byte
}

// New constructs a Driver with no protocol version selected yet;
// LoadProfiles sets it from the device-database entry.
func New() *Driver { return &Driver{} }

// Name returns the driver's registry name.
func (d *Driver) Name() string { return "steelseries" }

// Probe is a no-op: the protocol version comes from the device-database
// entry, not from a hardware handshake.
func (d *Driver) Probe(io *hidio.Device) error { return nil }

// LoadProfiles builds a default single-profile skeleton, then
// opportunistically overlays whatever the hardware reports via
// readSettings and readFirmwareVersion (best-effort: a failure there
// leaves the skeleton's defaults in place).
func (d *Driver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	if info.DriverConfig.DeviceVersion != nil {
		d.version = byte(*info.DriverConfig.DeviceVersion)
	} else {
		d.version = 1
	}

	info.Profiles = nil
	for pid := uint32(0); pid < numProfiles; pid++ {
		profile := model.ProfileInfo{
			Index:       pid,
			Active:      true,
			Enabled:     true,
			ReportRate:  1000,
			ReportRates: []uint32{125, 250, 500, 1000},
			AngleSnap:   0,
			Debounce:    0,
		}
		for rid := uint32(0); rid < numDPI; rid++ {
			profile.Resolutions = append(profile.Resolutions, model.ResolutionInfo{
				Index:   rid,
				Active:  rid == 0,
				Default: rid == 0,
				DPI:     model.UnifiedDPI(800 * (rid + 1)),
			})
		}
		for bid := uint32(0); bid < numButtons; bid++ {
			profile.Buttons = append(profile.Buttons, model.ButtonInfo{
				Index:        bid,
				ActionType:   model.ActionButton,
				MappingValue: bid + 1,
			})
		}
		for lid := uint32(0); lid < numLEDs; lid++ {
			profile.LEDs = append(profile.LEDs, model.LedInfo{
				Index:             lid,
				Mode:              model.LedSolid,
				Color:             model.Color{Red: 255},
				ColorDepth:        3,
				EffectDurationMS:  1000,
				Brightness:        255,
			})
		}

		d.readSettings(io, &profile)
		info.Profiles = append(info.Profiles, profile)
	}

	if fw := d.readFirmwareVersion(io); fw != "" {
		info.FirmwareVersion = fw
	}
	return nil
}

func activeProfile(info *model.DeviceInfo) *model.ProfileInfo {
	for i := range info.Profiles {
		if info.Profiles[i].Active {
			return &info.Profiles[i]
		}
	}
	if len(info.Profiles) > 0 {
		return &info.Profiles[0]
	}
	return nil
}

// Commit writes DPI, buttons, LEDs and report rate for the active profile,
// then issues the version-appropriate save (EEPROM commit) report.
func (d *Driver) Commit(io *hidio.Device, info *model.DeviceInfo) error {
	profile := activeProfile(info)
	if profile == nil {
		return nil
	}

	for _, res := range profile.Resolutions {
		if res.Active {
			d.writeDPI(io, res)
			break
		}
	}

	d.writeButtons(io, profile, info)

	for _, led := range profile.LEDs {
		d.writeLED(io, led)
	}

	d.writeReportRate(io, profile.ReportRate)
	d.writeSave(io)
	return nil
}

func dpiValue(dpi model.DPI) uint32 {
	switch dpi.Kind {
	case model.DPIUnified:
		return dpi.Value
	case model.DPISeparate:
		return dpi.X
	default:
		return 800
	}
}

func (d *Driver) writeDPI(io *hidio.Device, res model.ResolutionInfo) {
	dpiVal := dpiValue(res.DPI)
	var scaled byte
	if dpiVal/100 > 0 {
		scaled = byte(dpiVal/100 - 1)
	}
	resID := byte(res.Index) + 1

	switch d.version {
	case 1:
		buf := make([]byte, reportSizeShort)
		buf[0] = idDPIShort
		buf[1] = resID
		buf[2] = scaled
		io.Write(buf)
	case 2:
		buf := make([]byte, reportSize)
		buf[0] = idDPIv2
		buf[2] = resID
		buf[3] = scaled
		buf[6] = dpiMagicMarker
		io.Write(buf)
	case 3:
		buf := make([]byte, reportSize)
		buf[0] = idDPIv3
		buf[2] = resID
		buf[3] = scaled
		buf[5] = dpiMagicMarker
		io.Write(buf)
	case 4:
		buf := make([]byte, reportSizeShort)
		buf[0] = idDPIv4
		buf[1] = resID
		buf[2] = scaled
		io.Write(buf)
	}
}

func hasQuirk(cfg model.DriverConfig, quirk string) bool {
	for _, q := range cfg.Quirks {
		if q == quirk {
			return true
		}
	}
	return false
}

func (d *Driver) writeButtons(io *hidio.Device, profile *model.ProfileInfo, info *model.DeviceInfo) {
	buf := make([]byte, reportLongSize)
	buf[0] = idButtons

	senseiRaw := hasQuirk(info.DriverConfig, "STEELSERIES_QUIRK_SENSEIRAW")
	buttonSize := buttonSizeStandard
	reportSizeUsed := reportLongSize
	if senseiRaw {
		buttonSize = buttonSizeSenseiRaw
		reportSizeUsed = reportSizeShort
	}

	for _, btn := range profile.Buttons {
		idx := 2 + int(btn.Index)*buttonSize
		if idx >= reportSizeUsed {
			continue
		}

		switch btn.ActionType {
		case model.ActionButton:
			buf[idx] = byte(btn.MappingValue)
		case model.ActionKey:
			usage := byte(btn.MappingValue % 256)
			if senseiRaw {
				buf[idx] = buttonKey
			} else {
				buf[idx] = buttonKbd
			}
			if idx+1 < reportSizeUsed {
				buf[idx+1] = usage
			}
		case model.ActionMacro:
			var modifiers, finalKey byte
			for _, e := range btn.MacroEntries {
				if e.Kind != model.MacroPress {
					continue
				}
				switch e.Value {
				case 224:
					modifiers |= 0x01
				case 225:
					modifiers |= 0x02
				case 226:
					modifiers |= 0x04
				case 227:
					modifiers |= 0x08
				case 228:
					modifiers |= 0x10
				case 229:
					modifiers |= 0x20
				case 230:
					modifiers |= 0x40
				case 231:
					modifiers |= 0x80
				default:
					finalKey = byte(e.Value % 256)
				}
			}
			if senseiRaw {
				buf[idx] = buttonKey
				if idx+1 < reportSizeUsed {
					buf[idx+1] = finalKey
				}
			} else {
				buf[idx] = buttonKbd
				cursor := idx
				for _, m := range modifierTable {
					if modifiers&m.mask != 0 && cursor-idx < 3 {
						if cursor+1 < reportSizeUsed {
							buf[cursor+1] = m.code
						}
						cursor++
					}
				}
				if cursor+1 < reportSizeUsed {
					buf[cursor+1] = finalKey
				}
			}
		case model.ActionSpecial:
			switch btn.MappingValue {
			case 1:
				buf[idx] = buttonResCycle
			case 2:
				buf[idx] = buttonWheelUp
			case 3:
				buf[idx] = buttonWheelDown
			default:
				buf[idx] = buttonOff
			}
		default:
			buf[idx] = buttonOff
		}
	}

	payload := buf[:reportSizeUsed]
	if d.version == 3 {
		io.SetFeature(payload)
		return
	}
	io.Write(payload)
}

func (d *Driver) writeReportRate(io *hidio.Device, hz uint32) {
	if hz < 125 {
		hz = 125
	}
	rateVal := byte(1000 / hz)

	switch d.version {
	case 1:
		buf := make([]byte, reportSizeShort)
		buf[0] = idReportRateShort
		buf[2] = rateVal
		io.Write(buf)
	case 2:
		buf := make([]byte, reportSize)
		buf[0] = idReportRateV2
		buf[2] = rateVal
		io.Write(buf)
	case 3:
		buf := make([]byte, reportSize)
		buf[0] = idReportRateV3
		buf[2] = rateVal
		io.Write(buf)
	case 4:
		buf := make([]byte, reportSizeShort)
		buf[0] = idReportRateV4
		buf[2] = rateVal
		io.Write(buf)
	}
}

func (d *Driver) writeLED(io *hidio.Device, led model.LedInfo) {
	switch d.version {
	case 1:
		d.writeLEDv1(io, led)
	case 2:
		d.writeLEDv2(io, led)
	case 3:
		d.writeLEDv3(io, led)
	}
}

func (d *Driver) writeLEDv1(io *hidio.Device, led model.LedInfo) {
	var effect byte
	switch led.Mode {
	case model.LedOff, model.LedSolid:
		effect = 0x01
	case model.LedBreathing:
		switch {
		case led.EffectDurationMS <= 3000:
			effect = 0x04
		case led.EffectDurationMS <= 5000:
			effect = 0x03
		default:
			effect = 0x02
		}
	default:
		return
	}

	effectBuf := make([]byte, reportSizeShort)
	effectBuf[0] = idLEDEffectShort
	effectBuf[1] = byte(led.Index) + 1
	effectBuf[2] = effect
	time.Sleep(10 * time.Millisecond)
	io.Write(effectBuf)

	colorBuf := make([]byte, reportSizeShort)
	colorBuf[0] = idLEDColorShort
	colorBuf[1] = byte(led.Index) + 1
	colorBuf[2] = byte(led.Color.Red)
	colorBuf[3] = byte(led.Color.Green)
	colorBuf[4] = byte(led.Color.Blue)
	time.Sleep(10 * time.Millisecond)
	io.Write(colorBuf)
}

func ledPoints(led model.LedInfo, pointsOffset int, buf []byte) int {
	off := led.Mode == model.LedOff
	npoints := 0

	p := pointsOffset
	if !off {
		buf[p] = byte(led.Color.Red)
		buf[p+1] = byte(led.Color.Green)
		buf[p+2] = byte(led.Color.Blue)
	}
	npoints++

	if led.Mode == model.LedBreathing {
		p = pointsOffset + npoints*4
		buf[p] = byte(led.Color.Red)
		buf[p+1] = byte(led.Color.Green)
		buf[p+2] = byte(led.Color.Blue)
		buf[p+3] = 0x7F
		npoints++

		p = pointsOffset + npoints*4
		buf[p+3] = 0x7F
		npoints++
	}
	return npoints
}

func (d *Driver) writeLEDv2(io *hidio.Device, led model.LedInfo) {
	buf := make([]byte, reportSize)
	buf[0] = idLEDv2
	buf[2] = byte(led.Index)

	if led.Mode == model.LedOff || led.Mode == model.LedSolid {
		buf[19] = 0x01
	}

	npoints := ledPoints(led, 28, buf)
	buf[27] = byte(npoints)
	d16 := uint32(npoints) * 330
	if led.EffectDurationMS > d16 {
		d16 = led.EffectDurationMS
	}
	buf[3] = byte(d16)
	buf[4] = byte(d16 >> 8)

	io.Write(buf)
}

func (d *Driver) writeLEDv3(io *hidio.Device, led model.LedInfo) {
	buf := make([]byte, reportSize)
	buf[0] = idLEDv3
	buf[2] = byte(led.Index)
	buf[7] = byte(led.Index)

	if led.Mode == model.LedOff || led.Mode == model.LedSolid {
		buf[24] = 0x01
	}

	npoints := ledPoints(led, 30, buf)
	buf[29] = byte(npoints)
	d16 := uint32(npoints) * 330
	if led.EffectDurationMS > d16 {
		d16 = led.EffectDurationMS
	}
	buf[8] = byte(d16)
	buf[9] = byte(d16 >> 8)

	io.SetFeature(buf)
}

func (d *Driver) writeSave(io *hidio.Device) {
	time.Sleep(20 * time.Millisecond)
	switch d.version {
	case 1:
		buf := make([]byte, reportSizeShort)
		buf[0] = idSaveShort
		io.Write(buf)
	case 2:
		buf := make([]byte, reportSize)
		buf[0] = idSaveV2
		io.Write(buf)
	case 3, 4:
		buf := make([]byte, reportSize)
		buf[0] = idSaveV3
		io.Write(buf)
	}
}

func (d *Driver) readFirmwareVersion(io *hidio.Device) string {
	switch d.version {
	case 1:
		buf := make([]byte, reportSizeShort)
		buf[0] = idFirmwareV1
		if err := io.Write(buf); err != nil {
			return ""
		}
	case 2:
		buf := make([]byte, reportSize)
		buf[0] = idFirmwareV2
		if err := io.Write(buf); err != nil {
			return ""
		}
	case 3:
		buf := make([]byte, reportSize)
		buf[0] = idFirmwareV3
		if err := io.Write(buf); err != nil {
			return ""
		}
	default:
		return ""
	}

	buf := make([]byte, reportSize)
	n, err := io.Read(buf, readTimeout)
	if err != nil || n < 2 {
		return ""
	}
	major, minor := buf[1], buf[0]
	return fmt.Sprintf("%d.%d", major, minor)
}

func (d *Driver) readSettings(io *hidio.Device, profile *model.ProfileInfo) {
	var settingsID byte
	switch d.version {
	case 2:
		settingsID = idSettingsV2
	case 3:
		settingsID = idSettingsV3
	default:
		return
	}

	req := make([]byte, reportSize)
	req[0] = settingsID
	if err := io.Write(req); err != nil {
		return
	}

	buf := make([]byte, reportSize)
	n, err := io.Read(buf, readTimeout)
	if err != nil || n < 2 {
		return
	}

	switch d.version {
	case 2:
		var activeRes uint32
		if buf[1] > 0 {
			activeRes = uint32(buf[1]) - 1
		}
		for i := range profile.Resolutions {
			res := &profile.Resolutions[i]
			res.Active = res.Index == activeRes
			dpiIdx := 2 + int(res.Index)*2
			if dpiIdx < n {
				res.DPI = model.UnifiedDPI(100 * (1 + uint32(buf[dpiIdx])))
			}
		}
		for i := range profile.LEDs {
			led := &profile.LEDs[i]
			offset := 6 + int(led.Index)*3
			if offset+2 < n {
				led.Color = model.Color{Red: uint32(buf[offset]), Green: uint32(buf[offset+1]), Blue: uint32(buf[offset+2])}
			}
		}
	case 3:
		var activeRes uint32
		if buf[0] > 0 {
			activeRes = uint32(buf[0]) - 1
		}
		for i := range profile.Resolutions {
			profile.Resolutions[i].Active = profile.Resolutions[i].Index == activeRes
		}
	}
}
