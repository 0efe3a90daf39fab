package hidpp10

import (
	"testing"
	"time"

	"github.com/hidctl/mousectld/internal/hidio/hidiotest"
	"github.com/hidctl/mousectld/internal/hidpp"
	"github.com/hidctl/mousectld/internal/model"
)

func TestProbeReadsProtocolVersion(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	go func() {
		buf := make([]byte, hidpp.ShortReportSize)
		if _, err := hw.Read(buf); err != nil {
			return
		}
		resp := hidpp.BuildShort(hidpp.Short{DeviceIndex: 0xFF, SubID: subIDGetRegister, Address: regProtocolVersion, Params: [3]byte{0x02, 0x01}})
		hw.Write(resp)
	}()

	d := &Driver{}
	if err := d.Probe(dev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.majorVersion != 0x02 || d.minorVersion != 0x01 {
		t.Fatalf("unexpected version: %d.%d", d.majorVersion, d.minorVersion)
	}
}

func TestLoadProfilesAppliesActiveProfileFields(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			buf := make([]byte, hidpp.LongReportSize)
			n, err := hw.Read(buf)
			if err != nil {
				return
			}
			buf = buf[:n]
			if len(buf) == hidpp.ShortReportSize {
				s, _ := hidpp.ParseShort(buf)
				switch s.Address {
				case regActiveProfile:
					hw.Write(hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regActiveProfile, Params: [3]byte{0x00}}))
				case regReportRate:
					hw.Write(hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regReportRate, Params: [3]byte{2}}))
				case regLEDColor:
					hw.Write(hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetRegister, Address: regLEDColor, Params: [3]byte{10, 20, 30}}))
				}
			} else if len(buf) == hidpp.LongReportSize {
				l, _ := hidpp.ParseLong(buf)
				switch l.Address {
				case regDPI:
					params := [16]byte{16, 0, 16, 0}
					hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: broadcastDeviceIdx, SubID: subIDGetLongRegister, Address: regDPI, Params: params}))
				}
			}
		}
	}()

	profiles := uint32(1)
	leds := uint32(1)
	info := model.Skeleton("mouse0", "Test Mouse", "usb:046d:c539:0", model.DriverConfig{Profiles: &profiles, LEDs: &leds})

	d := &Driver{}
	if err := d.LoadProfiles(dev, info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware goroutine did not finish")
	}

	profile := info.FindProfile(0)
	if profile == nil {
		t.Fatalf("expected profile 0 to exist")
	}
	if profile.ReportRate != 500 {
		t.Fatalf("expected report rate 500 (1000/2), got %d", profile.ReportRate)
	}
	res := firstResolution(profile)
	if res == nil || res.DPI.Kind != model.DPISeparate || res.DPI.X != 800 || res.DPI.Y != 800 {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	led := firstLED(profile)
	if led == nil || led.Mode != model.LedSolid || led.Color.Red != 10 || led.Color.Green != 20 || led.Color.Blue != 30 {
		t.Fatalf("unexpected LED: %+v", led)
	}
}

// TestCommitWritesActiveProfileFields exercises scenario S1: profile 1,
// 500Hz report rate, 1600 DPI, a red LED, committed via exact register
// writes followed by the active-profile select.
func TestCommitWritesActiveProfileFields(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	var gotDPI, gotRate, gotLED, gotSelect []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			buf := make([]byte, hidpp.LongReportSize)
			n, err := hw.Read(buf)
			if err != nil {
				return
			}
			buf = append([]byte(nil), buf[:n]...)
			if len(buf) == hidpp.ShortReportSize {
				s, _ := hidpp.ParseShort(buf)
				switch s.Address {
				case regReportRate:
					gotRate = buf
					hw.Write(hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regReportRate}))
				case regActiveProfile:
					gotSelect = buf
					hw.Write(hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regActiveProfile}))
				case regLEDColor:
					gotLED = buf
					hw.Write(hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regLEDColor}))
				}
			} else {
				l, _ := hidpp.ParseLong(buf)
				switch l.Address {
				case regDPI:
					gotDPI = buf
					hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetLongRegister, Address: regDPI}))
				}
			}
		}
	}()

	profiles := uint32(2)
	info := model.Skeleton("mouse0", "Test Mouse", "usb:046d:c539:0", model.DriverConfig{Profiles: &profiles, LEDs: ptrU32(1)})
	info.ActivateProfile(1)
	active := info.FindProfile(1)
	active.Dirty = true
	active.ReportRate = 500
	active.Resolutions[0].DPI = model.UnifiedDPI(1600)
	active.LEDs[0].Color = model.ColorFromRGB(model.RGB{R: 255, G: 0, B: 0})

	d := &Driver{}
	if err := d.Commit(dev, info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware goroutine did not finish")
	}

	wantDPI := hidpp.BuildLong(hidpp.Long{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetLongRegister, Address: regDPI, Params: [16]byte{32, 0, 32, 0}})
	if string(gotDPI) != string(wantDPI) {
		t.Fatalf("DPI write mismatch: got %v, want %v", gotDPI, wantDPI)
	}
	wantRate := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regReportRate, Params: [3]byte{2}})
	if string(gotRate) != string(wantRate) {
		t.Fatalf("rate write mismatch: got %v, want %v", gotRate, wantRate)
	}
	wantLED := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regLEDColor, Params: [3]byte{255, 0, 0}})
	if string(gotLED) != string(wantLED) {
		t.Fatalf("LED write mismatch: got %v, want %v", gotLED, wantLED)
	}
	wantSelect := hidpp.BuildShort(hidpp.Short{DeviceIndex: broadcastDeviceIdx, SubID: subIDSetRegister, Address: regActiveProfile, Params: [3]byte{1}})
	if string(gotSelect) != string(wantSelect) {
		t.Fatalf("select write mismatch: got %v, want %v", gotSelect, wantSelect)
	}
}

func ptrU32(v uint32) *uint32 { return &v }
