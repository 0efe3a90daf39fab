package steelseries

import (
	"testing"
	"time"

	"github.com/hidctl/mousectld/internal/hidio/hidiotest"
	"github.com/hidctl/mousectld/internal/model"
)

func newInfo(version uint32) *model.DeviceInfo {
	v := version
	return &model.DeviceInfo{DriverConfig: model.DriverConfig{DeviceVersion: &v}}
}

func TestLoadProfilesDefaultsVersionWhenAbsent(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()
	go drainAndClose(hw)

	d := New()
	info := &model.DeviceInfo{}
	if err := d.LoadProfiles(dev, info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.version != 1 {
		t.Fatalf("expected default version 1, got %d", d.version)
	}
	if len(info.Profiles) != numProfiles {
		t.Fatalf("expected %d profiles, got %d", numProfiles, len(info.Profiles))
	}
	if len(info.Profiles[0].Resolutions) != numDPI || len(info.Profiles[0].Buttons) != numButtons || len(info.Profiles[0].LEDs) != numLEDs {
		t.Fatalf("unexpected skeleton shape: %+v", info.Profiles[0])
	}
}

func drainAndClose(hw interface {
	Read([]byte) (int, error)
	Close() error
}) {
	buf := make([]byte, reportLongSize)
	for {
		if _, err := hw.Read(buf); err != nil {
			return
		}
	}
}

func TestWriteDPIv1EncodesScaledValue(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	d := &Driver{version: 1}
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, reportSizeShort)
		n, err := hw.Read(buf)
		if err != nil {
			close(done)
			return
		}
		done <- buf[:n]
	}()

	res := model.ResolutionInfo{Index: 0, DPI: model.UnifiedDPI(1600)}
	d.writeDPI(dev, res)

	select {
	case got := <-done:
		if got[0] != idDPIShort || got[1] != 1 || got[2] != 15 {
			t.Fatalf("unexpected DPI payload: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish")
	}
}

func TestWriteButtonsStandardKeyEncoding(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	d := &Driver{version: 2}
	profile := &model.ProfileInfo{Buttons: []model.ButtonInfo{
		{Index: 0, ActionType: model.ActionKey, MappingValue: 30},
	}}
	info := &model.DeviceInfo{}

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, reportLongSize)
		n, err := hw.Read(buf)
		if err != nil {
			close(done)
			return
		}
		done <- buf[:n]
	}()

	d.writeButtons(dev, profile, info)

	select {
	case got := <-done:
		if got[0] != idButtons {
			t.Fatalf("unexpected report id: %#x", got[0])
		}
		if got[2] != buttonKbd || got[3] != 30 {
			t.Fatalf("unexpected button encoding: %v", got[2:4])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish")
	}
}

func TestWriteButtonsSenseiRawQuirkUsesShortStride(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	d := &Driver{version: 1}
	profile := &model.ProfileInfo{Buttons: []model.ButtonInfo{
		{Index: 0, ActionType: model.ActionKey, MappingValue: 4},
	}}
	info := &model.DeviceInfo{DriverConfig: model.DriverConfig{Quirks: []string{"STEELSERIES_QUIRK_SENSEIRAW"}}}

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, reportSizeShort)
		n, err := hw.Read(buf)
		if err != nil {
			close(done)
			return
		}
		done <- buf[:n]
	}()

	d.writeButtons(dev, profile, info)

	select {
	case got := <-done:
		if len(got) != reportSizeShort {
			t.Fatalf("expected senseiraw quirk to shrink the report to %d bytes, got %d", reportSizeShort, len(got))
		}
		if got[2] != buttonKey || got[3] != 4 {
			t.Fatalf("unexpected senseiraw key encoding: %v", got[2:4])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish")
	}
}

func TestReadSettingsV2AppliesDPIAndColor(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	d := &Driver{version: 2}
	profile := &model.ProfileInfo{
		Resolutions: []model.ResolutionInfo{{Index: 0}, {Index: 1}},
		LEDs:        []model.LedInfo{{Index: 0}},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := make([]byte, reportSize)
		if _, err := hw.Read(req); err != nil {
			return
		}
		resp := make([]byte, reportSize)
		resp[1] = 2 // active resolution = index 1
		resp[2] = 7 // resolution 0 dpi byte
		resp[4] = 15
		resp[6] = 10
		resp[7] = 20
		resp[8] = 30
		hw.Write(resp)
	}()

	d.readSettings(dev, profile)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish")
	}

	if !profile.Resolutions[1].Active {
		t.Fatalf("expected resolution 1 to be marked active")
	}
	if profile.Resolutions[0].DPI.Value != 800 {
		t.Fatalf("expected resolution 0 DPI 800, got %+v", profile.Resolutions[0].DPI)
	}
	if profile.LEDs[0].Color.Red != 10 || profile.LEDs[0].Color.Green != 20 || profile.LEDs[0].Color.Blue != 30 {
		t.Fatalf("unexpected LED color: %+v", profile.LEDs[0].Color)
	}
}
