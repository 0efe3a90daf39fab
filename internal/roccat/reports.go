package roccat

import "github.com/hidctl/mousectld/internal/model"

// settingsReport is the 43-byte report 6 payload: DPI levels, the DPI
// enable mask, the active DPI slot, and the report rate index.
type settingsReport struct {
	ProfileID    byte
	XYLinked     byte
	XSensitivity byte
	YSensitivity byte
	DPIMask      byte
	XRes         [numDPI]byte
	CurrentDPI   byte
	YRes         [numDPI]byte
	ReportRate   byte
}

func settingsFromBytes(buf []byte) *settingsReport {
	s := &settingsReport{
		ProfileID:    buf[2],
		XYLinked:     buf[3],
		XSensitivity: buf[4],
		YSensitivity: buf[5],
		DPIMask:      buf[6],
		CurrentDPI:   buf[12],
		ReportRate:   buf[19],
	}
	copy(s.XRes[:], buf[7:12])
	copy(s.YRes[:], buf[13:18])
	return s
}

func (s *settingsReport) intoBytes() []byte {
	buf := make([]byte, settingsReportSize)
	buf[0] = reportSettings
	buf[1] = settingsReportSize
	buf[2] = s.ProfileID
	buf[3] = s.XYLinked
	buf[4] = s.XSensitivity
	buf[5] = s.YSensitivity
	buf[6] = s.DPIMask
	copy(buf[7:12], s.XRes[:])
	buf[12] = s.CurrentDPI
	copy(buf[13:18], s.YRes[:])
	buf[19] = s.ReportRate
	return buf
}

// profileReport is the 77-byte report 7 payload: 24 button descriptors, 3
// bytes each.
type profileReport struct {
	ProfileID byte
	Buttons   [buttonMax + 1]byte // raw action byte per button (first byte of each 3-byte descriptor)
	rawFull   [72]byte
}

func profileFromBytes(buf []byte) *profileReport {
	p := &profileReport{ProfileID: buf[2]}
	copy(p.rawFull[:], buf[3:75])
	for i := 0; i <= buttonMax; i++ {
		p.Buttons[i] = p.rawFull[i*buttonStride]
	}
	return p
}

func (p *profileReport) intoBytes() []byte {
	buf := make([]byte, profileReportSize)
	buf[0] = reportKeyMapping
	buf[1] = profileReportSize
	buf[2] = p.ProfileID
	for i := 0; i <= buttonMax; i++ {
		p.rawFull[i*buttonStride] = p.Buttons[i]
	}
	copy(buf[3:75], p.rawFull[:])
	return buf
}

// macroReport is the 2082-byte report 8 payload: a 500-entry key-event
// table for one button's macro program.
type macroReport struct {
	Profile     byte
	ButtonIndex byte
	Active      byte
	Length      uint16
	Keys        [maxMacroLength]macroEvent
}

type macroEvent struct {
	Keycode byte
	Flag    byte
	Time    uint16
}

const (
	macroFlagPress   = 0x01
	macroFlagRelease = 0x02
)

func macroFromBytes(buf []byte) *macroReport {
	m := &macroReport{
		Profile:     buf[3],
		ButtonIndex: buf[4],
		Active:      buf[5],
		Length:      uint16(buf[78]) | uint16(buf[79])<<8,
	}
	for i := 0; i < maxMacroLength; i++ {
		off := 80 + i*4
		m.Keys[i] = macroEvent{Keycode: buf[off], Flag: buf[off+1], Time: uint16(buf[off+2]) | uint16(buf[off+3])<<8}
	}
	return m
}

func (m *macroReport) intoBytes() []byte {
	buf := make([]byte, macroReportSize)
	buf[0] = reportMacro
	buf[1] = byte(macroReportSize & 0xFF)
	buf[2] = byte(macroReportSize >> 8)
	buf[3] = m.Profile
	buf[4] = m.ButtonIndex
	buf[5] = m.Active
	buf[30] = 'g'
	buf[31] = '0'
	buf[78] = byte(m.Length)
	buf[79] = byte(m.Length >> 8)
	for i, k := range m.Keys {
		off := 80 + i*4
		buf[off] = k.Keycode
		buf[off+1] = k.Flag
		buf[off+2] = byte(k.Time)
		buf[off+3] = byte(k.Time >> 8)
	}
	return buf
}

// decodeEntries converts the macro's key-event table into model macro
// entries: each press/release event is followed by a wait using the
// event's recorded time (defaulting to 50ms when zero).
func (m *macroReport) decodeEntries() []model.MacroEntry {
	var out []model.MacroEntry
	for i := 0; i < int(m.Length) && i < maxMacroLength; i++ {
		k := m.Keys[i]
		if k.Flag&macroFlagPress != 0 {
			out = append(out, model.MacroEntry{Kind: model.MacroPress, Value: uint32(k.Keycode)})
		}
		if k.Flag&macroFlagRelease != 0 {
			out = append(out, model.MacroEntry{Kind: model.MacroRelease, Value: uint32(k.Keycode)})
		}
		wait := uint32(k.Time)
		if wait == 0 {
			wait = 50
		}
		out = append(out, model.MacroEntry{Kind: model.MacroWait, Value: wait})
	}
	return out
}

// buildMacroReport translates a model macro program back into the raw
// key-event table: Press/Release entries append a new event, and a Wait
// entry sets the time field of the most recently appended event.
func buildMacroReport(profile, buttonIdx byte, entries []model.MacroEntry) *macroReport {
	m := &macroReport{Profile: profile, ButtonIndex: buttonIdx, Active: 1}
	count := 0
	for _, e := range entries {
		switch e.Kind {
		case model.MacroPress:
			if count >= maxMacroLength {
				continue
			}
			m.Keys[count] = macroEvent{Keycode: byte(e.Value), Flag: macroFlagPress}
			count++
		case model.MacroRelease:
			if count >= maxMacroLength {
				continue
			}
			m.Keys[count] = macroEvent{Keycode: byte(e.Value), Flag: macroFlagRelease}
			count++
		case model.MacroWait:
			if count > 0 {
				m.Keys[count-1].Time = uint16(e.Value)
			}
		}
	}
	m.Length = uint16(count)
	return m
}

func mutateSettingsFromProfile(s *settingsReport, profile *model.ProfileInfo) {
	var activeIdx byte
	var mask byte
	for i := 0; i < numDPI && i < len(profile.Resolutions); i++ {
		res := profile.Resolutions[i]
		x, y := res.DPI.X, res.DPI.Y
		if res.DPI.Kind == model.DPIUnified {
			x, y = res.DPI.Value, res.DPI.Value
		}
		s.XRes[i] = byte(x / 50)
		s.YRes[i] = byte(y / 50)
		if !res.Disabled {
			mask |= 1 << uint(i)
		}
		if res.Active {
			activeIdx = byte(i)
		}
	}
	s.DPIMask = mask
	s.CurrentDPI = activeIdx
	for i, rate := range reportRates {
		if rate == profile.ReportRate {
			s.ReportRate = byte(i)
			break
		}
	}
}

// rawToAction maps a raw Roccat button-descriptor byte to its action type
// and mapping value.
func rawToAction(raw byte) (model.ActionType, uint32) {
	if entry, ok := rawActionTable[raw]; ok {
		return entry.action, entry.value
	}
	return model.ActionUnknown, uint32(raw)
}

// actionToRaw is the inverse of rawToAction, used when committing a
// button's mapping back to the device. ActionUnknown passes its value
// through as the raw code; other unrecognized (action, value) pairs fall
// back to "no action" (0x06) rather than corrupting an unrelated raw code.
func actionToRaw(action model.ActionType, value uint32) byte {
	for raw, entry := range rawActionTable {
		if entry.action == action && entry.value == value {
			return raw
		}
	}
	if action == model.ActionUnknown {
		return byte(value)
	}
	return 0x06
}

type actionTableEntry struct {
	action model.ActionType
	value  uint32
}

// Special mapping values, matching libratbag's special-function numbering.
const (
	specialDoubleClick      = 1
	specialWheelLeft        = 2
	specialWheelRight       = 3
	specialWheelUp          = 4
	specialWheelDown        = 5
	specialProfileCycleUp   = 6
	specialProfileUp        = 7
	specialProfileDown      = 8
	specialResolutionCycle  = 9
	specialResolutionUp     = 10
	specialResolutionDown   = 11
	specialSecondMode       = 20
)

// Key mapping values are Linux input-event keycodes.
const (
	keyLeftMeta     = 125
	keyConfig       = 171
	keyPreviousSong = 165
	keyNextSong     = 163
	keyPlayPause    = 164
	keyStopCD       = 166
	keyMute         = 113
	keyVolumeUp     = 115
	keyVolumeDown   = 114
)

var rawActionTable = map[byte]actionTableEntry{
	1:  {model.ActionButton, 1},
	2:  {model.ActionButton, 2},
	3:  {model.ActionButton, 3},
	4:  {model.ActionSpecial, specialDoubleClick},
	6:  {model.ActionNone, 0},
	7:  {model.ActionButton, 4},
	8:  {model.ActionButton, 5},
	9:  {model.ActionSpecial, specialWheelLeft},
	10: {model.ActionSpecial, specialWheelRight},
	13: {model.ActionSpecial, specialWheelUp},
	14: {model.ActionSpecial, specialWheelDown},
	16: {model.ActionSpecial, specialProfileCycleUp},
	17: {model.ActionSpecial, specialProfileUp},
	18: {model.ActionSpecial, specialProfileDown},
	20: {model.ActionSpecial, specialResolutionCycle},
	21: {model.ActionSpecial, specialResolutionUp},
	22: {model.ActionSpecial, specialResolutionDown},
	26: {model.ActionKey, keyLeftMeta},
	32: {model.ActionKey, keyConfig},
	33: {model.ActionKey, keyPreviousSong},
	34: {model.ActionKey, keyNextSong},
	35: {model.ActionKey, keyPlayPause},
	36: {model.ActionKey, keyStopCD},
	37: {model.ActionKey, keyMute},
	38: {model.ActionKey, keyVolumeUp},
	39: {model.ActionKey, keyVolumeDown},
	48: {model.ActionMacro, 0},
	65: {model.ActionSpecial, specialSecondMode},
}
