// Package model holds the shared, mutable device configuration tree: one
// DeviceInfo per live device, its Profiles, and each Profile's Resolutions,
// Buttons and LEDs. The tree is produced by a driver's LoadProfiles, read
// and mutated by IPC handlers, and read again by a driver's Commit.
package model

import "fmt"

// ActionType is a button's action discriminant. Numeric values are stable
// and exposed over IPC; they must not be renumbered.
type ActionType uint32

const (
	ActionNone ActionType = iota
	ActionButton
	ActionSpecial
	ActionKey
	ActionMacro
	ActionUnknown ActionType = 1000
)

// ActionTypeFromUint32 maps a raw IPC value to an ActionType, mapping any
// unrecognized discriminant to ActionUnknown rather than rejecting it.
func ActionTypeFromUint32(v uint32) ActionType {
	switch v {
	case 0:
		return ActionNone
	case 1:
		return ActionButton
	case 2:
		return ActionSpecial
	case 3:
		return ActionKey
	case 4:
		return ActionMacro
	default:
		return ActionUnknown
	}
}

// LedMode is an LED's effect discriminant. Off, Solid, Cycle, ColorWave,
// Starlight and Breathing match the HID++ 2.0 effect bytes; TriColor has no
// effect byte of its own (hidpp.BuildLEDPayload sends it as 0x01).
type LedMode uint32

const (
	LedOff       LedMode = 0
	LedSolid     LedMode = 1
	LedCycle     LedMode = 3
	LedColorWave LedMode = 4
	LedStarlight LedMode = 5
	LedBreathing LedMode = 10
	LedTriColor  LedMode = 32
)

// LedModeFromUint32 maps a raw IPC value to a LedMode. ok is false for any
// discriminant outside the supported set; writers must reject such values
// rather than silently coercing them.
func LedModeFromUint32(v uint32) (mode LedMode, ok bool) {
	switch LedMode(v) {
	case LedOff, LedSolid, LedCycle, LedColorWave, LedStarlight, LedBreathing, LedTriColor:
		return LedMode(v), true
	default:
		return 0, false
	}
}

// AllLedModes is the default supported-modes list assigned to every LED on
// skeleton construction.
var AllLedModes = []LedMode{LedOff, LedSolid, LedCycle, LedColorWave, LedStarlight, LedBreathing, LedTriColor}

// Color is a wide-range RGB triple as seen at the IPC ingress boundary: IPC
// callers may supply values above 255, and Clamp narrows them to the wire
// representation.
type Color struct {
	Red, Green, Blue uint32
}

// RGB is the narrow 0..255-per-channel wire representation of a Color.
type RGB struct {
	R, G, B uint8
}

// Clamp narrows c to a byte-per-channel RGB, saturating each channel at 255.
func (c Color) Clamp() RGB {
	clamp := func(v uint32) uint8 {
		if v > 255 {
			return 255
		}
		return uint8(v)
	}
	return RGB{R: clamp(c.Red), G: clamp(c.Green), B: clamp(c.Blue)}
}

// ColorFromRGB widens a narrow RGB back into a Color.
func ColorFromRGB(rgb RGB) Color {
	return Color{Red: uint32(rgb.R), Green: uint32(rgb.G), Blue: uint32(rgb.B)}
}

// DPIKind discriminates the Dpi tagged union.
type DPIKind int

const (
	DPIUnknown DPIKind = iota
	DPIUnified
	DPISeparate
)

// DPI is a resolution value: either unknown, a single unified value, or
// independent X/Y values.
type DPI struct {
	Kind DPIKind
	// Value holds the unified DPI when Kind == DPIUnified.
	Value uint32
	// X, Y hold independent DPI when Kind == DPISeparate.
	X, Y uint32
}

// UnifiedDPI constructs a DPI carrying a single value on both axes.
func UnifiedDPI(v uint32) DPI { return DPI{Kind: DPIUnified, Value: v} }

// SeparateDPI constructs a DPI with independent X/Y values.
func SeparateDPI(x, y uint32) DPI { return DPI{Kind: DPISeparate, X: x, Y: y} }

// MacroEventKind tags one entry of a Button's macro program.
type MacroEventKind uint32

const (
	MacroPress MacroEventKind = iota
	MacroRelease
	MacroWait
)

// MacroEntry is one (event-kind, value) pair in a Button's macro program.
type MacroEntry struct {
	Kind  MacroEventKind
	Value uint32
}

// LedInfo is one LED's state.
type LedInfo struct {
	Index                                  uint32
	Mode                                   LedMode
	Modes                                  []LedMode
	Color, SecondaryColor, TertiaryColor   Color
	ColorDepth                             uint32
	EffectDurationMS                       uint32
	Brightness                             uint32
}

// ButtonInfo is one button's mapping state.
type ButtonInfo struct {
	Index         uint32
	ActionType    ActionType
	ActionTypes   []uint32
	MappingValue  uint32
	MacroEntries  []MacroEntry
}

// ResolutionInfo is one DPI resolution slot's state.
type ResolutionInfo struct {
	Index        uint32
	DPI          DPI
	DPIList      []uint32
	Capabilities []uint32
	Active       bool
	Default      bool
	Disabled     bool
}

// ProfileInfo is one on-device profile's state.
type ProfileInfo struct {
	Index        uint32
	Name         string
	Active       bool
	Enabled      bool
	Dirty        bool
	ReportRate   uint32
	ReportRates  []uint32
	AngleSnap    int32 // -1 means unsupported
	Debounce     int32 // -1 means unsupported
	Debounces    []uint32
	Resolutions  []ResolutionInfo
	Buttons      []ButtonInfo
	LEDs         []LedInfo
}

// FindResolution returns the Resolution with the given stable index, if any.
func (p *ProfileInfo) FindResolution(index uint32) *ResolutionInfo {
	for i := range p.Resolutions {
		if p.Resolutions[i].Index == index {
			return &p.Resolutions[i]
		}
	}
	return nil
}

// FindButton returns the Button with the given stable index, if any.
func (p *ProfileInfo) FindButton(index uint32) *ButtonInfo {
	for i := range p.Buttons {
		if p.Buttons[i].Index == index {
			return &p.Buttons[i]
		}
	}
	return nil
}

// FindLED returns the LED with the given stable index, if any.
func (p *ProfileInfo) FindLED(index uint32) *LedInfo {
	for i := range p.LEDs {
		if p.LEDs[i].Index == index {
			return &p.LEDs[i]
		}
	}
	return nil
}

// ActivateResolution clears Active on every sibling Resolution and sets it
// on the one matching index. Returns false if no Resolution has that index.
func (p *ProfileInfo) ActivateResolution(index uint32) bool {
	target := p.FindResolution(index)
	if target == nil {
		return false
	}
	for i := range p.Resolutions {
		p.Resolutions[i].Active = false
	}
	target.Active = true
	p.Dirty = true
	return true
}

// SetDefaultResolution clears Default on every sibling Resolution and sets
// it on the one matching index. Returns false if no Resolution has that index.
func (p *ProfileInfo) SetDefaultResolution(index uint32) bool {
	target := p.FindResolution(index)
	if target == nil {
		return false
	}
	for i := range p.Resolutions {
		p.Resolutions[i].Default = false
	}
	target.Default = true
	p.Dirty = true
	return true
}

// SetButtonMapping assigns action/value to the Button with the given index
// and marks the Profile dirty. Clears any stale macro program when the new
// action is not Macro. Returns false if no Button has that index.
func (p *ProfileInfo) SetButtonMapping(index uint32, action ActionType, value uint32) bool {
	b := p.FindButton(index)
	if b == nil {
		return false
	}
	b.ActionType = action
	b.MappingValue = value
	if action != ActionMacro {
		b.MacroEntries = nil
	}
	p.Dirty = true
	return true
}

// SetLEDEffectDuration clamps ms to [0, 10000] and stores it on the LED
// with the given index, marking the Profile dirty. Returns false if no LED
// has that index.
func (p *ProfileInfo) SetLEDEffectDuration(index uint32, ms uint32) bool {
	l := p.FindLED(index)
	if l == nil {
		return false
	}
	if ms > 10000 {
		ms = 10000
	}
	l.EffectDurationMS = ms
	p.Dirty = true
	return true
}

// SetLEDBrightness clamps v to [0, 255] and stores it on the LED with the
// given index, marking the Profile dirty. Returns false if no LED has that
// index.
func (p *ProfileInfo) SetLEDBrightness(index uint32, v uint32) bool {
	l := p.FindLED(index)
	if l == nil {
		return false
	}
	if v > 255 {
		v = 255
	}
	l.Brightness = v
	p.Dirty = true
	return true
}

// DeviceInfo is the root of one live device's configuration tree.
type DeviceInfo struct {
	Sysname         string
	Name            string
	Model           string
	FirmwareVersion string
	Profiles        []ProfileInfo
	DriverConfig    DriverConfig
}

// DriverConfig is the per-device driver configuration that devicedb parses
// from a device file's [Driver/<name>] section. It is declared here rather
// than in devicedb because devicedb itself depends on model.
type DriverConfig struct {
	Profiles             *uint32
	Buttons              *uint32
	LEDs                 *uint32
	DPIs                 *uint32
	DPIRange             *DPIRange
	Wireless             bool
	DeviceVersion        *uint32
	MacroLength          *uint32
	Quirks               []string
	ButtonMapping        []byte
	ButtonMappingSecond  []byte
	LedModes             []string
}

// DPIRange is an inclusive DPI range with a step, e.g. "100:16000@100".
type DPIRange struct {
	Min, Max, Step uint32
}

// Values expands the range into its discrete DPI list.
func (r DPIRange) Values() []uint32 {
	if r.Step == 0 || r.Min > r.Max {
		return nil
	}
	var out []uint32
	for v := r.Min; v <= r.Max; v += r.Step {
		out = append(out, v)
	}
	return out
}

// FindProfile returns the Profile with the given stable index, if any.
func (d *DeviceInfo) FindProfile(index uint32) *ProfileInfo {
	for i := range d.Profiles {
		if d.Profiles[i].Index == index {
			return &d.Profiles[i]
		}
	}
	return nil
}

// ActivateProfile clears Active on every sibling Profile and sets it on the
// one matching index. Returns false if no Profile has that index.
func (d *DeviceInfo) ActivateProfile(index uint32) bool {
	target := d.FindProfile(index)
	if target == nil {
		return false
	}
	for i := range d.Profiles {
		d.Profiles[i].Active = false
	}
	target.Active = true
	return true
}

// BuildModel constructs the canonical model string "<bus>:<vid>:<pid>:0".
func BuildModel(bus string, vid, pid uint16) string {
	return fmt.Sprintf("%s:%04x:%04x:0", bus, vid, pid)
}

// Skeleton builds a default DeviceInfo tree shaped by cfg's counts and DPI
// range, with sysname/name/model filled in and the first profile/resolution
// marked active/default. Drivers call this (or replicate its shape) during
// LoadProfiles when no richer hardware readback is available.
func Skeleton(sysname, name, model string, cfg DriverConfig) *DeviceInfo {
	numProfiles := derefOr(cfg.Profiles, 1)
	numButtons := derefOr(cfg.Buttons, 0)
	numLEDs := derefOr(cfg.LEDs, 0)
	numDPIs := derefOr(cfg.DPIs, 1)

	dpiList := []uint32{800, 1600}
	if cfg.DPIRange != nil {
		if vals := cfg.DPIRange.Values(); len(vals) > 0 {
			dpiList = vals
		}
	}

	info := &DeviceInfo{
		Sysname:      sysname,
		Name:         name,
		Model:        model,
		DriverConfig: cfg,
	}

	for pi := uint32(0); pi < numProfiles; pi++ {
		profile := ProfileInfo{
			Index:       pi,
			Active:      pi == 0,
			Enabled:     true,
			ReportRate:  1000,
			ReportRates: []uint32{125, 250, 500, 1000},
			AngleSnap:   -1,
			Debounce:    -1,
		}
		for ri := uint32(0); ri < numDPIs; ri++ {
			profile.Resolutions = append(profile.Resolutions, ResolutionInfo{
				Index:   ri,
				DPI:     UnifiedDPI(800),
				DPIList: append([]uint32(nil), dpiList...),
				Active:  ri == 0,
				Default: ri == 0,
			})
		}
		for bi := uint32(0); bi < numButtons; bi++ {
			profile.Buttons = append(profile.Buttons, ButtonInfo{
				Index:        bi,
				ActionType:   ActionButton,
				ActionTypes:  []uint32{0, 1, 2, 3, 4},
				MappingValue: bi,
			})
		}
		for li := uint32(0); li < numLEDs; li++ {
			profile.LEDs = append(profile.LEDs, LedInfo{
				Index:      li,
				Mode:       LedOff,
				Modes:      append([]LedMode(nil), AllLedModes...),
				ColorDepth: 1,
				Brightness: 255,
			})
		}
		info.Profiles = append(info.Profiles, profile)
	}

	return info
}

func derefOr(p *uint32, def uint32) uint32 {
	if p == nil {
		return def
	}
	return *p
}
