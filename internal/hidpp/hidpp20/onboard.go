package hidpp20

import (
	"context"

	"github.com/hidctl/mousectld/internal/driverr"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/hidpp"
	"github.com/hidctl/mousectld/internal/model"
)

const (
	fnSectorRead       = 0x04
	fnSectorWriteStart = 0x05
	fnSectorWriteChunk = 0x06
	fnSectorWriteEnd   = 0x07

	rootSectorIndex = 0

	endOfDirectory = 0xFFFF

	profileButtonsOffset = 32
	profileDPIOffset     = 3
	numDPISlots          = 5
)

// readSectorBytes reads size bytes from the start of sector sectorIndex, in
// 16-byte chunks. Interior chunks are read at their natural offset and
// fully consumed; when the final chunk would be short, the read is instead
// issued at (size-16), or at 0 when size itself is under 16, so the device
// always returns a full 16-byte chunk, and only the bytes of that chunk from
// the current offset up to size are kept.
func readSectorBytes(ctx context.Context, io *hidio.Device, featureIndex byte, sectorIndex uint16, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	offset := 0
	for offset < size {
		remaining := size - offset
		readOffset := offset
		if remaining < sectorChunkSize {
			readOffset = size - sectorChunkSize
			if readOffset < 0 {
				readOffset = 0
			}
		}
		params := [16]byte{byte(sectorIndex >> 8), byte(sectorIndex), byte(uint16(readOffset) >> 8), byte(uint16(readOffset))}
		resp, err := call(ctx, io, featureIndex, fnSectorRead, params)
		if err != nil {
			return nil, err
		}
		chunk := resp.Params
		if remaining < sectorChunkSize {
			skip := offset - readOffset
			out = append(out, chunk[skip:skip+remaining]...)
			offset = size
		} else {
			out = append(out, chunk[:]...)
			offset += sectorChunkSize
		}
	}
	return out, nil
}

// writeSectorBytes writes data as the full contents of sector sectorIndex:
// a start call carrying the sector index and size, one call per 16-byte
// (zero-padded) chunk, then a finalize call.
func writeSectorBytes(ctx context.Context, io *hidio.Device, featureIndex byte, sectorIndex uint16, data []byte) error {
	size := uint16(len(data))
	start := [16]byte{byte(sectorIndex >> 8), byte(sectorIndex), 0, 0, byte(size >> 8), byte(size)}
	if _, err := call(ctx, io, featureIndex, fnSectorWriteStart, start); err != nil {
		return err
	}
	for offset := 0; offset < len(data); offset += sectorChunkSize {
		var chunk [16]byte
		copy(chunk[:], data[offset:])
		if _, err := call(ctx, io, featureIndex, fnSectorWriteChunk, chunk); err != nil {
			return err
		}
	}
	if _, err := call(ctx, io, featureIndex, fnSectorWriteEnd, [16]byte{}); err != nil {
		return err
	}
	return nil
}

type directoryEntry struct {
	sectorIndex uint16
	enabled     bool
}

func readDirectory(ctx context.Context, io *hidio.Device, featureIndex byte, profileCount int) ([]directoryEntry, error) {
	raw, err := readSectorBytes(ctx, io, featureIndex, rootSectorIndex, profileCount*4)
	if err != nil {
		return nil, err
	}
	entries := make([]directoryEntry, 0, profileCount)
	for i := 0; i < profileCount; i++ {
		off := i * 4
		addr := uint16(raw[off])<<8 | uint16(raw[off+1])
		if addr == endOfDirectory {
			break
		}
		entries = append(entries, directoryEntry{sectorIndex: addr, enabled: raw[off+2] != 0})
	}
	return entries, nil
}

// loadOnboardProfiles reads the profile directory and each referenced
// profile sector, populating info.Profiles with report rate, DPI and
// button state. The HID++ 2.0 macro-mapping open question is resolved by
// leaving MacroEntries empty on every button read here: control ids do not
// carry an abstract macro program, only Roccat's own macro report does.
func (d *Driver) loadOnboardProfiles(ctx context.Context, io *hidio.Device, info *model.DeviceInfo) error {
	entries, err := readDirectory(ctx, io, d.onboard.featureIndex, int(d.onboard.profileCount))
	if err != nil {
		return err
	}

	numButtons := uint32(d.onboard.buttonCount)
	cfg := info.DriverConfig
	profiles := uint32(len(entries))
	cfg.Profiles = &profiles
	cfg.Buttons = &numButtons
	*info = *model.Skeleton(info.Sysname, info.Name, info.Model, cfg)

	d.profileSectors = make(map[uint32]uint16, len(entries))

	for i, entry := range entries {
		profile := info.FindProfile(uint32(i))
		if profile == nil {
			continue
		}
		d.profileSectors[profile.Index] = entry.sectorIndex
		profile.Enabled = entry.enabled

		sectorSize := int(d.onboard.sectorSize)
		if sectorSize == 0 {
			continue
		}
		raw, err := readSectorBytes(ctx, io, d.onboard.featureIndex, entry.sectorIndex, sectorSize)
		if err != nil {
			continue
		}
		if len(raw) < 2 {
			continue
		}
		computed := hidpp.CRC16CCITT(raw[:len(raw)-2])
		received := uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1])
		if computed != received {
			continue
		}

		if raw[0] > 0 {
			profile.ReportRate = 1000 / uint32(raw[0])
		}
		for slot := 0; slot < numDPISlots && slot < len(profile.Resolutions); slot++ {
			off := profileDPIOffset + slot*2
			if off+1 >= len(raw) {
				break
			}
			dpi := uint32(raw[off]) | uint32(raw[off+1])<<8
			profile.Resolutions[slot].DPI = model.UnifiedDPI(dpi)
		}
		for bi := range profile.Buttons {
			off := profileButtonsOffset + bi*4
			if off+3 >= len(raw) {
				break
			}
			action, value := decodeButtonEntry(raw[off], raw[off+1], raw[off+2], raw[off+3])
			profile.Buttons[bi].ActionType = action
			profile.Buttons[bi].MappingValue = value
		}
	}
	return nil
}

const (
	buttonTypeDisabled = 0x00
	buttonTypeMacro    = 0x20
	buttonTypeHID      = 0x80
	buttonTypeSpecial  = 0xC0

	hidSubtypeMouse    = 0x01
	hidSubtypeKeyboard = 0x02
	hidSubtypeConsumer = 0x03
)

func decodeButtonEntry(btnType, subtype, idLo, idHi byte) (model.ActionType, uint32) {
	controlID := uint32(idLo) | uint32(idHi)<<8
	switch btnType {
	case buttonTypeDisabled:
		return model.ActionNone, 0
	case buttonTypeMacro:
		return model.ActionMacro, controlID
	case buttonTypeHID:
		switch subtype {
		case hidSubtypeMouse:
			return model.ActionButton, controlID
		case hidSubtypeKeyboard, hidSubtypeConsumer:
			return model.ActionKey, controlID
		default:
			return model.ActionUnknown, controlID
		}
	case buttonTypeSpecial:
		return model.ActionSpecial, controlID
	default:
		return model.ActionUnknown, controlID
	}
}

func encodeButtonEntry(action model.ActionType, value uint32) (btnType, subtype, idLo, idHi byte) {
	idLo, idHi = byte(value), byte(value>>8)
	switch action {
	case model.ActionNone:
		return buttonTypeDisabled, 0, 0, 0
	case model.ActionMacro:
		return buttonTypeMacro, 0, idLo, idHi
	case model.ActionButton:
		return buttonTypeHID, hidSubtypeMouse, idLo, idHi
	case model.ActionKey:
		return buttonTypeHID, hidSubtypeKeyboard, idLo, idHi
	case model.ActionSpecial:
		return buttonTypeSpecial, 0, idLo, idHi
	default:
		return buttonTypeDisabled, 0, 0, 0
	}
}

// commitOnboardProfiles re-reads, patches and writes back the EEPROM sector
// for every dirty profile whose sector is known from the directory read
// during LoadProfiles. Profiles never loaded from a directory (no known
// sector) are skipped.
func (d *Driver) commitOnboardProfiles(ctx context.Context, io *hidio.Device, info *model.DeviceInfo) error {
	sectorSize := int(d.onboard.sectorSize)
	if sectorSize == 0 {
		return nil
	}

	for i := range info.Profiles {
		profile := &info.Profiles[i]
		if !profile.Dirty {
			continue
		}
		sectorIndex, ok := d.profileSectors[profile.Index]
		if !ok {
			continue
		}

		raw, err := readSectorBytes(ctx, io, d.onboard.featureIndex, sectorIndex, sectorSize)
		if err != nil {
			return driverr.IoError(err)
		}
		if len(raw) < profileButtonsOffset+2 {
			return driverr.BufferTooSmall(profileButtonsOffset+2, len(raw))
		}

		if profile.ReportRate > 0 {
			raw[0] = byte(1000 / profile.ReportRate)
		}
		for slot := 0; slot < numDPISlots && slot < len(profile.Resolutions); slot++ {
			off := profileDPIOffset + slot*2
			if off+1 >= len(raw) {
				break
			}
			v := profile.Resolutions[slot].DPI.Value
			if profile.Resolutions[slot].DPI.Kind == model.DPISeparate {
				v = profile.Resolutions[slot].DPI.X
			}
			raw[off], raw[off+1] = byte(v), byte(v>>8)
		}
		for bi := range profile.Buttons {
			off := profileButtonsOffset + bi*4
			if off+3 >= len(raw)-2 {
				break
			}
			btnType, subtype, idLo, idHi := encodeButtonEntry(profile.Buttons[bi].ActionType, profile.Buttons[bi].MappingValue)
			raw[off], raw[off+1], raw[off+2], raw[off+3] = btnType, subtype, idLo, idHi
		}

		crc := hidpp.CRC16CCITT(raw[:len(raw)-2])
		raw[len(raw)-2] = byte(crc >> 8)
		raw[len(raw)-1] = byte(crc)

		if err := writeSectorBytes(ctx, io, d.onboard.featureIndex, sectorIndex, raw); err != nil {
			return err
		}
	}
	return nil
}
