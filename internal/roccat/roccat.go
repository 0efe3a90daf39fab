// Package roccat implements the checksummed feature-report protocol shared
// by the Roccat device family: profile/settings/key-mapping/macro reports,
// each guarded by a 16-bit modular-sum checksum, and a cooperative
// wait_ready handshake after every profile-select write.
package roccat

import (
	"time"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/driverr"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	profileMax  = 4 // 5 profiles, indices 0..4
	buttonMax   = 23
	numDPI      = 5
	maxRetryReady = 10
	maxMacroLength = 500
	buttonStride   = 3

	reportConfigureProfile = 4
	reportProfile          = 5
	reportSettings          = 6
	reportKeyMapping        = 7
	reportMacro             = 8

	configTypeSettings   = 0x80
	configTypeKeyMapping = 0x90

	settingsReportSize = 43
	profileReportSize  = 77
	macroReportSize    = 2082

	readyOK       = 0x01
	readyError    = 0x02
	readyBusy     = 0x03
)

var reportRates = [4]uint32{125, 250, 500, 1000}

func init() {
	driverapi.Register("roccat", func() driverapi.Driver { return New() })
}

// Driver implements the Roccat checksummed protocol.
type Driver struct {
	cachedSettings [profileMax + 1]*settingsReport
	cachedProfiles [profileMax + 1]*profileReport
}

// New constructs a Driver with empty per-profile caches.
func New() *Driver { return &Driver{} }

// Name returns the driver's registry name.
func (d *Driver) Name() string { return "roccat" }

// computeCRC sums buf[0:len-2] modulo 2^16, matching the checksum every
// Roccat report carries in its final two (little-endian) bytes.
func computeCRC(buf []byte) uint16 {
	if len(buf) < 3 {
		return 0
	}
	var sum uint16
	for _, b := range buf[:len(buf)-2] {
		sum += uint16(b)
	}
	return sum
}

func crcIsValid(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	want := uint16(buf[len(buf)-2]) | uint16(buf[len(buf)-1])<<8
	return computeCRC(buf) == want
}

func putCRC(buf []byte) {
	crc := computeCRC(buf)
	buf[len(buf)-2] = byte(crc)
	buf[len(buf)-1] = byte(crc >> 8)
}

// featureGetter is the part of *hidio.Device that waitReady polls.
type featureGetter interface {
	GetFeature(buf []byte) (int, error)
}

// waitReady polls report 4 until the device reports ready (0x01), erroring
// immediately on a protocol error (0x02) or after maxRetryReady polls. Busy
// (0x03) waits 100ms before the next poll; any other value retries after a
// capped exponential backoff. Backoff sleeps cooperatively (time.Sleep) and
// never blocks the rest of the process's scheduler beyond that.
func waitReady(io featureGetter) error {
	time.Sleep(10 * time.Millisecond)
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < maxRetryReady; attempt++ {
		buf := []byte{reportConfigureProfile, 0, 0}
		n, err := io.GetFeature(buf)
		if err != nil {
			return err
		}
		if n < 2 {
			return driverr.BufferTooSmall(2, n)
		}
		switch buf[1] {
		case readyOK:
			return nil
		case readyError:
			return driverr.ProtocolError(reportConfigureProfile, buf[1])
		case readyBusy:
			time.Sleep(100 * time.Millisecond)
		default:
			time.Sleep(backoff)
			if backoff < 100*time.Millisecond {
				backoff *= 2
				if backoff > 100*time.Millisecond {
					backoff = 100 * time.Millisecond
				}
			}
		}
	}
	return driverr.Timeout(maxRetryReady)
}

func setConfigProfile(io *hidio.Device, profileIdx, configType byte) error {
	if err := io.SetFeature([]byte{reportConfigureProfile, profileIdx, configType}); err != nil {
		return err
	}
	return waitReady(io)
}

// Probe checks that the profile-select report responds with its expected
// length.
func (d *Driver) Probe(io *hidio.Device) error {
	buf := make([]byte, 3)
	buf[0] = reportProfile
	n, err := io.GetFeature(buf)
	if err != nil {
		return err
	}
	if n != 3 {
		return driverr.BufferTooSmall(3, n)
	}
	return nil
}

func (d *Driver) readSettings(io *hidio.Device, profileIdx byte) (*settingsReport, error) {
	if err := setConfigProfile(io, profileIdx, configTypeSettings); err != nil {
		return nil, err
	}
	buf := make([]byte, settingsReportSize)
	buf[0] = reportSettings
	n, err := io.GetFeature(buf)
	if err != nil {
		return nil, err
	}
	if n < settingsReportSize {
		return nil, driverr.BufferTooSmall(settingsReportSize, n)
	}
	if !crcIsValid(buf) {
		return nil, driverr.ChecksumMismatch(uint32(computeCRC(buf)), uint32(buf[len(buf)-2])|uint32(buf[len(buf)-1])<<8)
	}
	return settingsFromBytes(buf), nil
}

func (d *Driver) writeSettings(io *hidio.Device, profileIdx byte, s *settingsReport) error {
	buf := s.intoBytes()
	putCRC(buf)
	if err := io.SetFeature(buf); err != nil {
		return err
	}
	if err := waitReady(io); err != nil {
		return err
	}
	d.cachedSettings[profileIdx] = settingsFromBytes(buf)
	return nil
}

func (d *Driver) readProfileReport(io *hidio.Device, profileIdx byte) (*profileReport, error) {
	if err := setConfigProfile(io, profileIdx, configTypeKeyMapping); err != nil {
		return nil, err
	}
	time.Sleep(10 * time.Millisecond)
	buf := make([]byte, profileReportSize)
	buf[0] = reportKeyMapping
	n, err := io.GetFeature(buf)
	if err != nil {
		return nil, err
	}
	if n < profileReportSize {
		return nil, driverr.BufferTooSmall(profileReportSize, n)
	}
	if !crcIsValid(buf) {
		return nil, driverr.ChecksumMismatch(uint32(computeCRC(buf)), uint32(buf[len(buf)-2])|uint32(buf[len(buf)-1])<<8)
	}
	return profileFromBytes(buf), nil
}

func (d *Driver) writeProfileReport(io *hidio.Device, profileIdx byte, p *profileReport) error {
	buf := p.intoBytes()
	putCRC(buf)
	if err := io.SetFeature(buf); err != nil {
		return err
	}
	if err := waitReady(io); err != nil {
		return err
	}
	d.cachedProfiles[profileIdx] = profileFromBytes(buf)
	return nil
}

func (d *Driver) readMacro(io *hidio.Device, profileIdx, buttonIdx byte) (*macroReport, error) {
	if err := setConfigProfile(io, profileIdx, 0); err != nil {
		return nil, err
	}
	if err := setConfigProfile(io, profileIdx, buttonIdx); err != nil {
		return nil, err
	}
	time.Sleep(10 * time.Millisecond)
	buf := make([]byte, macroReportSize)
	buf[0] = reportMacro
	n, err := io.GetFeature(buf)
	if err != nil {
		return nil, err
	}
	if n < macroReportSize {
		return nil, driverr.BufferTooSmall(macroReportSize, n)
	}
	if !crcIsValid(buf) {
		return nil, driverr.ChecksumMismatch(uint32(computeCRC(buf)), uint32(buf[len(buf)-2])|uint32(buf[len(buf)-1])<<8)
	}
	return macroFromBytes(buf), nil
}

func (d *Driver) writeMacro(io *hidio.Device, m *macroReport) error {
	buf := m.intoBytes()
	putCRC(buf)
	if err := io.SetFeature(buf); err != nil {
		return err
	}
	return waitReady(io)
}

// LoadProfiles reads every profile's settings and key-mapping reports,
// caching each and populating the corresponding model.ProfileInfo. A
// per-profile or per-field failure is skipped without being reported (the
// affected fields keep their skeleton values); LoadProfiles itself never
// aborts partway through the device's profile set.
func (d *Driver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	profiles := uint32(profileMax + 1)
	dpis := uint32(numDPI)
	buttons := uint32(buttonMax + 1)
	cfg := info.DriverConfig
	cfg.Profiles = &profiles
	cfg.DPIs = &dpis
	cfg.Buttons = &buttons
	*info = *model.Skeleton(info.Sysname, info.Name, info.Model, cfg)

	for idx := 0; idx <= profileMax; idx++ {
		profile := info.FindProfile(uint32(idx))
		if profile == nil {
			continue
		}

		settings, err := d.readSettings(io, byte(idx))
		if err == nil {
			d.cachedSettings[idx] = settings
			applySettingsToProfile(settings, profile)
		}

		profileReport, err := d.readProfileReport(io, byte(idx))
		if err == nil {
			d.cachedProfiles[idx] = profileReport
			for bi := 0; bi <= buttonMax && bi < len(profile.Buttons); bi++ {
				raw := profileReport.Buttons[bi]
				action, value := rawToAction(raw)
				profile.Buttons[bi].ActionType = action
				profile.Buttons[bi].MappingValue = value
				if action == model.ActionMacro {
					if macro, err := d.readMacro(io, byte(idx), byte(bi)); err == nil {
						profile.Buttons[bi].MacroEntries = macro.decodeEntries()
					}
				}
			}
		}
	}
	return nil
}

func applySettingsToProfile(s *settingsReport, profile *model.ProfileInfo) {
	for i := 0; i < numDPI && i < len(profile.Resolutions); i++ {
		res := &profile.Resolutions[i]
		res.DPI = model.SeparateDPI(uint32(s.XRes[i])*50, uint32(s.YRes[i])*50)
		res.Active = uint32(s.CurrentDPI) == uint32(i)
		res.Disabled = s.DPIMask&(1<<uint(i)) == 0
	}
	if int(s.ReportRate) < len(reportRates) {
		profile.ReportRate = reportRates[s.ReportRate]
	}
}

// Commit writes settings and key-mapping (and, for Macro buttons, macro
// reports) for every dirty profile, then selects the active profile.
func (d *Driver) Commit(io *hidio.Device, info *model.DeviceInfo) error {
	activeIdx := -1
	for i := range info.Profiles {
		profile := &info.Profiles[i]
		if profile.Index > profileMax {
			continue
		}
		if profile.Active {
			activeIdx = int(profile.Index)
		}
		if !profile.Dirty {
			continue
		}

		idx := byte(profile.Index)
		if settings := d.cachedSettings[idx]; settings != nil {
			mutateSettingsFromProfile(settings, profile)
			if err := d.writeSettings(io, idx, settings); err != nil {
				continue
			}
		}

		if profileReport := d.cachedProfiles[idx]; profileReport != nil {
			for bi := range profile.Buttons {
				if bi > buttonMax {
					break
				}
				raw := actionToRaw(profile.Buttons[bi].ActionType, profile.Buttons[bi].MappingValue)
				profileReport.Buttons[bi] = raw
				if profile.Buttons[bi].ActionType == model.ActionMacro {
					macro := buildMacroReport(idx, byte(bi), profile.Buttons[bi].MacroEntries)
					if err := d.writeMacro(io, macro); err != nil {
						continue
					}
				}
			}
			if err := d.writeProfileReport(io, idx, profileReport); err != nil {
				continue
			}
		}
	}

	if activeIdx >= 0 {
		if err := io.SetFeature([]byte{reportProfile, 0x03, byte(activeIdx)}); err != nil {
			return err
		}
		if err := waitReady(io); err != nil {
			return err
		}
	}
	return nil
}
