package hidpp20

import (
	"testing"

	"github.com/hidctl/mousectld/internal/hidio/hidiotest"
	"github.com/hidctl/mousectld/internal/hidpp"
	"github.com/hidctl/mousectld/internal/model"
)

func TestButtonEntryRoundtrip(t *testing.T) {
	cases := []struct {
		action model.ActionType
		value  uint32
	}{
		{model.ActionButton, 3},
		{model.ActionKey, 0x1234},
		{model.ActionSpecial, 9},
		{model.ActionMacro, 500},
		{model.ActionNone, 0},
	}
	for _, c := range cases {
		btnType, subtype, lo, hi := encodeButtonEntry(c.action, c.value)
		gotAction, gotValue := decodeButtonEntry(btnType, subtype, lo, hi)
		if gotAction != c.action || gotValue != c.value {
			t.Errorf("roundtrip mismatch for %v/%d: got %v/%d", c.action, c.value, gotAction, gotValue)
		}
	}
}

func TestDecodeButtonEntryUnknownType(t *testing.T) {
	action, _ := decodeButtonEntry(0x55, 0, 0, 0)
	if action != model.ActionUnknown {
		t.Fatalf("expected ActionUnknown for an unrecognized button type, got %v", action)
	}
}

func TestOnboardFeatureDiscoveryIndexZeroMeansAbsent(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	// The simulated device answers the ping, reports Color LED Effects at
	// index 5, and every other page (RGB Effects included) at index 0.
	go func() {
		for i := 0; i < 8; i++ {
			buf := make([]byte, hidpp.LongReportSize)
			n, err := hw.Read(buf)
			if err != nil {
				return
			}
			l, ok := hidpp.ParseLong(buf[:n])
			if !ok {
				continue
			}
			var params [16]byte
			page := uint16(l.Params[0])<<8 | uint16(l.Params[1])
			if hidpp.DecodeFunction(l.Address) == fnRootGetFeature && page == featureColorLEDEffects {
				params[0] = 5
			}
			hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: l.SubID, Address: l.Address, Params: params}))
		}
	}()

	d := &Driver{}
	if err := d.Probe(dev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := d.features[featureRGBEffects]; ok {
		t.Fatalf("expected RGB effects feature reported at index 0 to be absent")
	}
	if d.features[featureColorLEDEffects] != 5 {
		t.Fatalf("expected Color LED Effects at index 5, got %v", d.features)
	}
}

// TestTriColorRoutesThroughRGBEffects exercises scenario S3: a TriColor LED
// commit must use the RGB Effects feature (0x8071), not Color LED Effects
// (0x8070), and must be skipped (not attempted on 0x8070) when 0x8071 is
// absent from the device's feature set.
func TestTriColorRoutesThroughRGBEffectsNotColorLED(t *testing.T) {
	newInfo := func() *model.DeviceInfo {
		return &model.DeviceInfo{Profiles: []model.ProfileInfo{{
			Index: 0,
			Dirty: true,
			LEDs:  []model.LedInfo{{Index: 0, Mode: model.LedTriColor}},
		}}}
	}

	// No featureRGBEffects registered: Commit's LED loop must skip this LED
	// rather than falling back to 0x8070 for a TriColor mode.
	got := commitAndCapture(t, &Driver{features: map[uint16]byte{featureColorLEDEffects: 5}}, newInfo())
	if len(got) != 0 {
		t.Fatalf("expected no requests without RGB Effects, got %v", got)
	}

	got = commitAndCapture(t, &Driver{features: map[uint16]byte{featureColorLEDEffects: 5, featureRGBEffects: 6}}, newInfo())
	if len(got) != 1 {
		t.Fatalf("expected exactly one request, got %d", len(got))
	}
	if got[0].SubID != 6 || hidpp.DecodeFunction(got[0].Address) != 0x02 {
		t.Fatalf("expected RGB Effects (index 6) function 0x02, got index %#x function %#x", got[0].SubID, hidpp.DecodeFunction(got[0].Address))
	}
	if got[0].Params[0] != 0 || got[0].Params[1] != 0x01 || got[0].Params[12] != 0x01 {
		t.Fatalf("unexpected TriColor request params: %v", got[0].Params)
	}
}

// commitAndCapture runs d.Commit against a simulated device that
// acknowledges every request, and returns the requests it received.
func commitAndCapture(t *testing.T, d *Driver, info *model.DeviceInfo) []hidpp.Long {
	t.Helper()
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	seen := make(chan hidpp.Long, 16)
	go func() {
		for {
			buf := make([]byte, hidpp.LongReportSize)
			n, err := hw.Read(buf)
			if err != nil {
				return
			}
			l, ok := hidpp.ParseLong(buf[:n])
			if !ok {
				continue
			}
			seen <- l
			hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: l.SubID, Address: l.Address}))
		}
	}()

	if err := d.Commit(dev, info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []hidpp.Long
	for len(seen) > 0 {
		got = append(got, <-seen)
	}
	return got
}
