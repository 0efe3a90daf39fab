// Package hidpp10 implements the register-based HID++ 1.0 protocol: a
// fixed set of numbered registers read and written via short (3 data byte)
// and long (16 data byte) reports.
package hidpp10

import (
	"context"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/driverr"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/hidpp"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	subIDSetRegister     = 0x80
	subIDGetRegister     = 0x81
	subIDSetLongRegister = 0x82
	subIDGetLongRegister = 0x83

	regProtocolVersion = 0x00
	regActiveProfile   = 0x0F
	regDPI             = 0x63
	regReportRate      = 0x64
	// regLEDColor holds a 3-byte RGB value and fits in a short register: a
	// short report's address byte is distinct from its 3 data bytes, so
	// GET_REGISTER/SET_REGISTER carries the full color in one round trip.
	regLEDColor = 0x57

	dpiUnit             = 50
	maxAttempts         = 3
	broadcastDeviceIdx  = 0xFF
)

func init() {
	driverapi.Register("hidpp10", func() driverapi.Driver { return &Driver{} })
}

// Driver implements the register-based HID++ 1.0 protocol.
type Driver struct {
	majorVersion, minorVersion byte
}

// Name returns the driver's registry name.
func (d *Driver) Name() string { return "hidpp10" }

func matchGetRegister(deviceIndex, register byte) func([]byte) (hidpp.Short, bool) {
	return func(buf []byte) (hidpp.Short, bool) {
		s, ok := hidpp.ParseShort(buf)
		if !ok || s.IsError() || s.DeviceIndex != deviceIndex {
			return hidpp.Short{}, false
		}
		if s.SubID != subIDGetRegister || s.Address != register {
			return hidpp.Short{}, false
		}
		return s, true
	}
}

func matchSetRegister(deviceIndex, register byte) func([]byte) (hidpp.Short, bool) {
	return func(buf []byte) (hidpp.Short, bool) {
		s, ok := hidpp.ParseShort(buf)
		if !ok || s.IsError() || s.DeviceIndex != deviceIndex {
			return hidpp.Short{}, false
		}
		if s.SubID != subIDSetRegister || s.Address != register {
			return hidpp.Short{}, false
		}
		return s, true
	}
}

func matchGetLongRegister(deviceIndex, register byte) func([]byte) (hidpp.Long, bool) {
	return func(buf []byte) (hidpp.Long, bool) {
		l, ok := hidpp.ParseLong(buf)
		if !ok || l.IsError() || l.DeviceIndex != deviceIndex {
			return hidpp.Long{}, false
		}
		if l.SubID != subIDGetLongRegister || l.Address != register {
			return hidpp.Long{}, false
		}
		return l, true
	}
}

func matchSetLongRegister(deviceIndex, register byte) func([]byte) (hidpp.Long, bool) {
	return func(buf []byte) (hidpp.Long, bool) {
		l, ok := hidpp.ParseLong(buf)
		if !ok || l.IsError() || l.DeviceIndex != deviceIndex {
			return hidpp.Long{}, false
		}
		if l.SubID != subIDSetLongRegister || l.Address != register {
			return hidpp.Long{}, false
		}
		return l, true
	}
}

// Probe reads the protocol version register to confirm the device speaks
// HID++ 1.0.
func (d *Driver) Probe(io *hidio.Device) error {
	report := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regProtocolVersion})
	resp, err := hidio.Request(context.Background(), io, report, hidpp.ShortReportSize, maxAttempts, matchGetRegister(broadcastDeviceIdx, regProtocolVersion))
	if err != nil {
		return err
	}
	d.majorVersion, d.minorVersion = resp.Params[0], resp.Params[1]
	return nil
}

func firstResolution(p *model.ProfileInfo) *model.ResolutionInfo {
	if len(p.Resolutions) == 0 {
		return nil
	}
	return &p.Resolutions[0]
}

func firstLED(p *model.ProfileInfo) *model.LedInfo {
	if len(p.LEDs) == 0 {
		return nil
	}
	return &p.LEDs[0]
}

// LoadProfiles reads the active profile index and the handful of registers
// this protocol exposes (DPI, report rate, LED color), applying them to the
// currently active profile. Other profile slots retain skeleton defaults:
// these registers only ever reflect the active profile.
func (d *Driver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	ctx := context.Background()
	activeIdx := uint32(0)

	activeReport := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regActiveProfile})
	if resp, err := hidio.Request(ctx, io, activeReport, hidpp.ShortReportSize, maxAttempts, matchGetRegister(broadcastDeviceIdx, regActiveProfile)); err == nil {
		activeIdx = uint32(resp.Params[0])
	}

	if len(info.Profiles) == 0 {
		*info = *model.Skeleton(info.Sysname, info.Name, info.Model, info.DriverConfig)
	}
	info.ActivateProfile(activeIdx)

	profile := info.FindProfile(activeIdx)
	if profile == nil {
		return nil
	}

	dpiReport := hidpp.BuildLong(hidpp.Long{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetLongRegister, Address: regDPI})
	if resp, err := hidio.Request(ctx, io, dpiReport, hidpp.LongReportSize, maxAttempts, matchGetLongRegister(broadcastDeviceIdx, regDPI)); err == nil {
		x := (uint32(resp.Params[0]) | uint32(resp.Params[1])<<8) * dpiUnit
		y := (uint32(resp.Params[2]) | uint32(resp.Params[3])<<8) * dpiUnit
		if res := firstResolution(profile); res != nil {
			res.DPI = model.SeparateDPI(x, y)
		}
	}

	rateReport := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regReportRate})
	if resp, err := hidio.Request(ctx, io, rateReport, hidpp.ShortReportSize, maxAttempts, matchGetRegister(broadcastDeviceIdx, regReportRate)); err == nil {
		if r := resp.Params[0]; r > 0 {
			profile.ReportRate = 1000 / uint32(r)
		}
	}

	ledReport := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regLEDColor})
	if resp, err := hidio.Request(ctx, io, ledReport, hidpp.ShortReportSize, maxAttempts, matchGetRegister(broadcastDeviceIdx, regLEDColor)); err == nil {
		if led := firstLED(profile); led != nil {
			led.Mode = model.LedSolid
			led.Color = model.ColorFromRGB(model.RGB{R: resp.Params[0], G: resp.Params[1], B: resp.Params[2]})
		}
	}

	return nil
}

// Commit writes the active profile's DPI, report rate and LED color, then
// selects it as active via the profile-index register. Per-field write
// failures are tolerated; a failure selecting the active profile is
// surfaced to the caller.
func (d *Driver) Commit(io *hidio.Device, info *model.DeviceInfo) error {
	ctx := context.Background()

	var active *model.ProfileInfo
	for i := range info.Profiles {
		if info.Profiles[i].Active {
			active = &info.Profiles[i]
			break
		}
	}
	if active == nil {
		return driverr.InvalidArgs("hidpp10: no active profile to commit")
	}
	if !active.Dirty {
		return nil
	}

	if res := firstResolution(active); res != nil {
		x, y := res.DPI.X, res.DPI.Y
		if res.DPI.Kind == model.DPIUnified {
			x, y = res.DPI.Value, res.DPI.Value
		}
		xu, yu := x/dpiUnit, y/dpiUnit
		params := [16]byte{byte(xu), byte(xu >> 8), byte(yu), byte(yu >> 8)}
		report := hidpp.BuildLong(hidpp.Long{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetLongRegister, Address: regDPI, Params: params})
		_, _ = hidio.Request(ctx, io, report, hidpp.LongReportSize, maxAttempts, matchSetLongRegister(broadcastDeviceIdx, regDPI))
	}

	if active.ReportRate > 0 {
		rateByte := byte(1000 / active.ReportRate)
		report := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regReportRate, Params: [3]byte{rateByte}})
		_, _ = hidio.Request(ctx, io, report, hidpp.ShortReportSize, maxAttempts, matchSetRegister(broadcastDeviceIdx, regReportRate))
	}

	if led := firstLED(active); led != nil {
		rgb := led.Color.Clamp()
		report := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regLEDColor, Params: [3]byte{rgb.R, rgb.G, rgb.B}})
		_, _ = hidio.Request(ctx, io, report, hidpp.ShortReportSize, maxAttempts, matchSetRegister(broadcastDeviceIdx, regLEDColor))
	}

	selectReport := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regActiveProfile, Params: [3]byte{byte(active.Index)}})
	if _, err := hidio.Request(ctx, io, selectReport, hidpp.ShortReportSize, maxAttempts, matchSetRegister(broadcastDeviceIdx, regActiveProfile)); err != nil {
		return err
	}

	return nil
}
