// Package driverstub registers minimal Driver implementations for device
// names that the original driver factory recognizes but that this corpus
// has no protocol documentation for. Each probes trivially, publishes a
// single default profile, and commits nothing, so a device-database entry
// naming one of these drivers still produces a working read-only object
// tree instead of a missing-driver failure.
package driverstub

import (
	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

// names mirrors the original's create_driver() match arms that have no
// deeper protocol implementation in this corpus.
var names = []string{
	"asus",
	"etekcity",
	"gskill",
	"logitech_g600",
	"marsgaming",
	"openinput",
	"sinowealth",
	"sinowealth-nubwo",
}

func init() {
	for _, name := range names {
		n := name
		driverapi.Register(n, func() driverapi.Driver { return New(n) })
	}
}

// Driver is a no-op protocol implementation keyed by registry name.
type Driver struct {
	name string
}

// New constructs a Driver registered under name.
func New(name string) *Driver { return &Driver{name: name} }

// Name returns the driver's registry name.
func (d *Driver) Name() string { return d.name }

// Probe always succeeds: there is no protocol handshake to verify.
func (d *Driver) Probe(io *hidio.Device) error { return nil }

// LoadProfiles publishes a single default profile with no resolutions,
// buttons, or LEDs, leaving info otherwise untouched.
func (d *Driver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	info.Profiles = []model.ProfileInfo{
		{
			Index:       0,
			Active:      true,
			Enabled:     true,
			ReportRate:  1000,
			ReportRates: []uint32{1000},
			AngleSnap:   -1,
			Debounce:    -1,
		},
	}
	return nil
}

// Commit is a no-op: there is no wire format to write changes back to.
func (d *Driver) Commit(io *hidio.Device, info *model.DeviceInfo) error { return nil }
