// Package devicedb loads device-description (.device) files: INI-style
// records mapping a USB/Bluetooth (bus, vendor, product) triple to a driver
// name and its configuration (profile/button/LED/DPI counts, DPI range,
// quirks, and so on).
package devicedb

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml"

	"github.com/hidctl/mousectld/internal/model"
)

// DeviceMatch is one (bus, vendor, product) triple a device-description
// entry matches against.
type DeviceMatch struct {
	Bus string
	VID uint16
	PID uint16
}

// Entry is one parsed device-description file.
type Entry struct {
	Name       string
	Driver     string
	DeviceType string
	Matches    []DeviceMatch
	Config     model.DriverConfig
}

// Match reports whether bus/vid/pid is matched by any of e's DeviceMatch
// entries.
func (e Entry) Match(bus string, vid, pid uint16) bool {
	for _, m := range e.Matches {
		if m.Bus == bus && m.VID == vid && m.PID == pid {
			return true
		}
	}
	return false
}

// ParseDeviceMatches parses a semicolon-separated list of "<bus>:<vid>:<pid>"
// entries, vid/pid in hex, e.g. "usb:046d:c539;usb:0b05:18e3".
func ParseDeviceMatches(s string) ([]DeviceMatch, error) {
	parts := strings.Split(s, ";")
	out := make([]DeviceMatch, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("devicedb: empty device match entry")
		}
		fields := strings.Split(p, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("devicedb: malformed device match %q", p)
		}
		vid, err := strconv.ParseUint(fields[1], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("devicedb: bad vendor id in %q: %w", p, err)
		}
		pid, err := strconv.ParseUint(fields[2], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("devicedb: bad product id in %q: %w", p, err)
		}
		out = append(out, DeviceMatch{Bus: fields[0], VID: uint16(vid), PID: uint16(pid)})
	}
	return out, nil
}

// ParseDPIRange parses a "<min>:<max>@<step>" range. A zero step or an
// inverted (min > max) range is reported as "no usable range" (nil, false,
// nil) rather than an error, and ParseEntry then leaves DPIRange unset,
// matching how the original data files
// encode "unbounded custom DPI" devices.
func ParseDPIRange(s string) (*model.DPIRange, bool, error) {
	atIdx := strings.Index(s, "@")
	if atIdx < 0 {
		return nil, false, fmt.Errorf("devicedb: malformed dpi range %q", s)
	}
	minMax := strings.SplitN(s[:atIdx], ":", 2)
	if len(minMax) != 2 {
		return nil, false, fmt.Errorf("devicedb: malformed dpi range %q", s)
	}
	minV, err := strconv.ParseUint(strings.TrimSpace(minMax[0]), 10, 32)
	if err != nil {
		return nil, false, fmt.Errorf("devicedb: bad dpi range min in %q: %w", s, err)
	}
	maxV, err := strconv.ParseUint(strings.TrimSpace(minMax[1]), 10, 32)
	if err != nil {
		return nil, false, fmt.Errorf("devicedb: bad dpi range max in %q: %w", s, err)
	}
	stepV, err := strconv.ParseUint(strings.TrimSpace(s[atIdx+1:]), 10, 32)
	if err != nil {
		return nil, false, fmt.Errorf("devicedb: bad dpi range step in %q: %w", s, err)
	}
	r := model.DPIRange{Min: uint32(minV), Max: uint32(maxV), Step: uint32(stepV)}
	if r.Step == 0 || r.Min > r.Max {
		return nil, false, nil
	}
	return &r, true, nil
}

func parseSemicolonList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSemicolonHexBytes(s string) ([]byte, error) {
	var out []byte
	for _, p := range parseSemicolonList(s) {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("devicedb: bad hex byte %q: %w", p, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func parseUint32Ptr(s string) (*uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return nil, err
	}
	u := uint32(v)
	return &u, nil
}

// section is one "[Name]" block of an INI-style file. Keys are held in a
// map, so their order in the file is not kept.
type section struct {
	name string
	kv   map[string]string
}

// parseINI is a small hand-rolled INI reader: "[Section]" headers,
// "key=value" pairs, "#"/";" full-line comments, blank lines ignored. There
// is no general-purpose INI library anywhere in the retrieved corpus, so
// this stays on bufio.Scanner rather than reaching for one.
func parseINI(r *bufio.Scanner) ([]section, error) {
	var sections []section
	var cur *section
	for r.Scan() {
		line := strings.TrimSpace(r.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sections = append(sections, section{name: line[1 : len(line)-1], kv: map[string]string{}})
			cur = &sections[len(sections)-1]
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("devicedb: key=value outside of any section: %q", line)
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("devicedb: malformed line %q", line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		cur.kv[key] = val
	}
	return sections, r.Err()
}

func findSection(sections []section, name string) (section, bool) {
	for _, s := range sections {
		if s.name == name {
			return s, true
		}
	}
	return section{}, false
}

// ParseEntry parses one device-description file's contents.
func ParseEntry(data []byte) (Entry, error) {
	sections, err := parseINI(bufio.NewScanner(strings.NewReader(string(data))))
	if err != nil {
		return Entry{}, err
	}

	deviceSec, ok := findSection(sections, "Device")
	if !ok {
		return Entry{}, fmt.Errorf("devicedb: missing [Device] section")
	}

	entry := Entry{
		Name:       deviceSec.kv["Name"],
		Driver:     deviceSec.kv["Driver"],
		DeviceType: deviceSec.kv["DeviceType"],
	}
	if entry.Driver == "" {
		return Entry{}, fmt.Errorf("devicedb: [Device] missing Driver")
	}
	matchStr, ok := deviceSec.kv["DeviceMatch"]
	if !ok || matchStr == "" {
		return Entry{}, fmt.Errorf("devicedb: [Device] missing DeviceMatch")
	}
	matches, err := ParseDeviceMatches(matchStr)
	if err != nil {
		return Entry{}, err
	}
	entry.Matches = matches

	driverSec, ok := findSection(sections, "Driver/"+entry.Driver)
	if !ok {
		return entry, nil
	}

	cfg := model.DriverConfig{}
	if v, ok := driverSec.kv["Profiles"]; ok {
		if cfg.Profiles, err = parseUint32Ptr(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad Profiles: %w", err)
		}
	}
	if v, ok := driverSec.kv["Buttons"]; ok {
		if cfg.Buttons, err = parseUint32Ptr(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad Buttons: %w", err)
		}
	}
	if v, ok := driverSec.kv["Leds"]; ok {
		if cfg.LEDs, err = parseUint32Ptr(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad Leds: %w", err)
		}
	}
	if v, ok := driverSec.kv["Dpis"]; ok {
		if cfg.DPIs, err = parseUint32Ptr(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad Dpis: %w", err)
		}
	}
	if v, ok := driverSec.kv["DpiRange"]; ok {
		r, present, err := ParseDPIRange(v)
		if err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad DpiRange: %w", err)
		}
		if present {
			cfg.DPIRange = r
		}
	}
	if v, ok := driverSec.kv["DeviceVersion"]; ok {
		if cfg.DeviceVersion, err = parseUint32Ptr(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad DeviceVersion: %w", err)
		}
	}
	if v, ok := driverSec.kv["MacroLength"]; ok {
		if cfg.MacroLength, err = parseUint32Ptr(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad MacroLength: %w", err)
		}
	}
	if v, ok := driverSec.kv["Wireless"]; ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad Wireless: %w", err)
		}
		cfg.Wireless = n != 0
	}
	if v, ok := driverSec.kv["Quirks"]; ok {
		cfg.Quirks = parseSemicolonList(v)
	} else if v, ok := driverSec.kv["Quirk"]; ok {
		cfg.Quirks = parseSemicolonList(v)
	}
	if v, ok := driverSec.kv["ButtonMapping"]; ok {
		if cfg.ButtonMapping, err = parseSemicolonHexBytes(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad ButtonMapping: %w", err)
		}
	}
	if v, ok := driverSec.kv["ButtonMappingSecondary"]; ok {
		if cfg.ButtonMappingSecond, err = parseSemicolonHexBytes(v); err != nil {
			return Entry{}, fmt.Errorf("devicedb: bad ButtonMappingSecondary: %w", err)
		}
	}
	if v, ok := driverSec.kv["LedModes"]; ok {
		cfg.LedModes = parseSemicolonList(v)
	}

	entry.Config = cfg
	return entry, nil
}

// DB is a loaded, queryable set of device-description entries.
type DB struct {
	entries []Entry
}

// New builds a DB directly from entries, without touching the filesystem.
func New(entries []Entry) *DB {
	return &DB{entries: entries}
}

// LoadDir loads every "*.device" file in dir and its subdirectories.
func LoadDir(dir string) (*DB, error) {
	var entries []Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".device") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("devicedb: reading %s: %w", path, err)
		}
		entry, err := ParseEntry(data)
		if err != nil {
			return fmt.Errorf("devicedb: parsing %s: %w", path, err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DB{entries: entries}, nil
}

// Lookup returns the first entry matching bus/vid/pid, if any.
func (db *DB) Lookup(bus string, vid, pid uint16) (Entry, bool) {
	for _, e := range db.entries {
		if e.Match(bus, vid, pid) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns every loaded entry.
func (db *DB) Entries() []Entry {
	return db.entries
}

// QuirkOverride appends extra quirks to the device-description entry with
// a matching Name, read from an optional TOML file alongside the INI
// database. This lets a deployment patch in a quirk for a misbehaving unit
// without editing the vendored .device file.
type QuirkOverride struct {
	Name   string   `toml:"name"`
	Quirks []string `toml:"quirks"`
}

type quirkOverrideFile struct {
	Override []QuirkOverride `toml:"override"`
}

// LoadQuirkOverrides parses a TOML quirk-override file. A missing file is
// not an error; it is treated as no overrides.
func LoadQuirkOverrides(path string) ([]QuirkOverride, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devicedb: reading quirk overrides %s: %w", path, err)
	}
	var f quirkOverrideFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("devicedb: parsing quirk overrides %s: %w", path, err)
	}
	return f.Override, nil
}

// ApplyQuirkOverrides returns a new DB with each override's quirks appended
// to every entry whose Name matches; db itself is left unmodified.
func (db *DB) ApplyQuirkOverrides(overrides []QuirkOverride) *DB {
	if len(overrides) == 0 {
		return db
	}
	byName := map[string][]string{}
	for _, o := range overrides {
		byName[o.Name] = append(byName[o.Name], o.Quirks...)
	}
	out := make([]Entry, len(db.entries))
	copy(out, db.entries)
	for i, e := range out {
		extra, ok := byName[e.Name]
		if !ok {
			continue
		}
		merged := make([]string, 0, len(e.Config.Quirks)+len(extra))
		merged = append(merged, e.Config.Quirks...)
		merged = append(merged, extra...)
		e.Config.Quirks = merged
		out[i] = e
	}
	return &DB{entries: out}
}
