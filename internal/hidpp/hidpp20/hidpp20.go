// Package hidpp20 implements the feature-indexed HID++ 2.0 protocol: root
// feature discovery, per-feature DPI/report-rate/LED pages, and the
// onboard-profiles (0x8100) EEPROM sector format.
package hidpp20

import (
	"context"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/hidpp"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	deviceIndex = 0xFF
	maxAttempts = 3

	featureRoot              = 0x0000
	featureDeviceName        = 0x0005
	featureSpecialKeys       = 0x1b04
	featureAdjustableDPI     = 0x2201
	featureAdjustableRate    = 0x8060
	featureColorLEDEffects   = 0x8070
	featureRGBEffects        = 0x8071
	featureOnboardProfiles   = 0x8100

	fnRootGetFeature = 0x00
	fnRootPing       = 0x01

	sectorChunkSize = 16
)

func init() {
	driverapi.Register("hidpp20", func() driverapi.Driver { return &Driver{} })
}

// Driver implements the feature-indexed HID++ 2.0 protocol.
type Driver struct {
	protocolMajor, protocolMinor byte
	features                     map[uint16]byte // page number -> feature index

	onboard        onboardLayout
	profileSectors map[uint32]uint16
}

type onboardLayout struct {
	present      bool
	featureIndex byte
	memoryModel  byte
	formatID     byte
	profileCount byte
	buttonCount  byte
	sectorCount  byte
	sectorSize   uint16
}

// Name returns the driver's registry name.
func (d *Driver) Name() string { return "hidpp20" }

func matchFeatureResponse(devIdx, featureIndex byte) func([]byte) (hidpp.Long, bool) {
	return func(buf []byte) (hidpp.Long, bool) {
		l, ok := hidpp.ParseLong(buf)
		if !ok || l.IsError() || l.DeviceIndex != devIdx {
			return hidpp.Long{}, false
		}
		if l.SubID != featureIndex {
			return hidpp.Long{}, false
		}
		return l, true
	}
}

func call(ctx context.Context, io *hidio.Device, featureIndex, function byte, params [16]byte) (hidpp.Long, error) {
	report := hidpp.BuildLong(hidpp.Long{
		DeviceIndex: deviceIndex,
		SubID:       featureIndex,
		Address:     hidpp.EncodeFunctionCall(function),
		Params:      params,
	})
	return hidio.Request(ctx, io, report, hidpp.LongReportSize, maxAttempts, matchFeatureResponse(deviceIndex, featureIndex))
}

// getFeature resolves page to its feature index via the root feature (index
// 0x00, function 0x00). A return of 0 means the feature is not present.
func getFeature(ctx context.Context, io *hidio.Device, page uint16) (byte, error) {
	params := [16]byte{byte(page >> 8), byte(page)}
	resp, err := call(ctx, io, featureRoot, fnRootGetFeature, params)
	if err != nil {
		return 0, err
	}
	return resp.Params[0], nil
}

// Probe pings the root feature to confirm the protocol version, then
// discovers the set of well-known feature pages this driver understands.
func (d *Driver) Probe(io *hidio.Device) error {
	ctx := context.Background()
	resp, err := call(ctx, io, featureRoot, fnRootPing, [16]byte{0, 0, 0xAA})
	if err != nil {
		return err
	}
	d.protocolMajor, d.protocolMinor = resp.Params[0], resp.Params[1]

	d.features = map[uint16]byte{}
	for _, page := range []uint16{featureDeviceName, featureSpecialKeys, featureAdjustableDPI, featureAdjustableRate, featureColorLEDEffects, featureRGBEffects, featureOnboardProfiles} {
		idx, err := getFeature(ctx, io, page)
		if err != nil {
			continue
		}
		if idx != 0 {
			d.features[page] = idx
		}
	}

	if idx, ok := d.features[featureOnboardProfiles]; ok {
		resp, err := call(ctx, io, idx, 0x00, [16]byte{})
		if err == nil {
			d.onboard = onboardLayout{
				present:      true,
				featureIndex: idx,
				memoryModel:  resp.Params[0],
				formatID:     resp.Params[1],
				profileCount: resp.Params[2],
				buttonCount:  resp.Params[3],
				sectorCount:  resp.Params[4],
				sectorSize:   uint16(resp.Params[5])<<8 | uint16(resp.Params[6]),
			}
		}
	}

	return nil
}

func firstResolution(p *model.ProfileInfo) *model.ResolutionInfo {
	if len(p.Resolutions) == 0 {
		return nil
	}
	return &p.Resolutions[0]
}

// LoadProfiles reads the active profile's DPI and report rate via their
// respective feature pages. LED state is not read back from the device;
// LEDs keep the values already in the tree. Onboard-profile EEPROM
// contents, when present, are read in loadOnboardProfiles.
func (d *Driver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	ctx := context.Background()

	if d.onboard.present {
		if err := d.loadOnboardProfiles(ctx, io, info); err != nil {
			return err
		}
	}

	if len(info.Profiles) == 0 {
		*info = *model.Skeleton(info.Sysname, info.Name, info.Model, info.DriverConfig)
	}

	profile := info.FindProfile(0)
	for i := range info.Profiles {
		if info.Profiles[i].Active {
			profile = &info.Profiles[i]
			break
		}
	}
	if profile == nil {
		return nil
	}

	if idx, ok := d.features[featureAdjustableDPI]; ok {
		if resp, err := call(ctx, io, idx, 0x01, [16]byte{0}); err == nil {
			current := uint32(resp.Params[1])<<8 | uint32(resp.Params[2])
			if res := firstResolution(profile); res != nil {
				res.DPI = model.UnifiedDPI(current)
			}
		}
	}

	if idx, ok := d.features[featureAdjustableRate]; ok {
		if resp, err := call(ctx, io, idx, 0x01, [16]byte{}); err == nil {
			periodMS := uint32(resp.Params[0])
			if periodMS > 0 {
				profile.ReportRate = 1000 / periodMS
			}
		}
	}

	return nil
}

// Commit pushes DPI, report rate and LED state for every dirty profile, and
// writes back onboard-profile EEPROM sectors when that feature is present.
// Non-dirty profiles are left untouched.
func (d *Driver) Commit(io *hidio.Device, info *model.DeviceInfo) error {
	ctx := context.Background()

	for i := range info.Profiles {
		profile := &info.Profiles[i]
		if !profile.Dirty {
			continue
		}

		if idx, ok := d.features[featureAdjustableDPI]; ok {
			if res := firstResolution(profile); res != nil {
				v := res.DPI.Value
				if res.DPI.Kind == model.DPISeparate {
					v = res.DPI.X
				}
				params := [16]byte{0, byte(v >> 8), byte(v)}
				call(ctx, io, idx, 0x02, params)
			}
		}

		if idx, ok := d.features[featureAdjustableRate]; ok && profile.ReportRate > 0 {
			periodMS := byte(1000 / profile.ReportRate)
			call(ctx, io, idx, 0x02, [16]byte{periodMS})
		}

		for li := range profile.LEDs {
			led := &profile.LEDs[li]
			payload, err := hidpp.BuildLEDPayload(led.Mode, led.Color.Clamp(), led.SecondaryColor.Clamp(), led.TertiaryColor.Clamp(), led.EffectDurationMS, led.Brightness)
			if err != nil {
				continue
			}
			if led.Mode == model.LedTriColor {
				idx, ok := d.features[featureRGBEffects]
				if !ok {
					continue
				}
				var params [16]byte
				params[0] = byte(li)
				copy(params[1:], payload[:])
				params[12] = 0x01
				call(ctx, io, idx, 0x02, params)
				continue
			}
			idx, ok := d.features[featureColorLEDEffects]
			if !ok {
				continue
			}
			var params [16]byte
			params[0] = byte(li)
			copy(params[1:], payload[:])
			params[12] = 0x01
			call(ctx, io, idx, 0x02, params)
		}
	}

	if d.onboard.present {
		return d.commitOnboardProfiles(ctx, io, info)
	}
	return nil
}
