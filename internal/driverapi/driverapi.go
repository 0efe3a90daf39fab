// Package driverapi defines the Driver contract every protocol
// implementation satisfies, and a name-keyed factory registry drivers
// self-register into.
package driverapi

import (
	"fmt"
	"sync"

	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

// Driver is the capability surface a device actor drives: identify the
// device, load its current configuration into a DeviceInfo tree, and later
// push a tree's pending changes back to hardware.
type Driver interface {
	// Name returns the driver's registry name.
	Name() string
	// Probe verifies the device responds as expected and caches whatever
	// state later calls need (firmware version, feature indices, and so
	// on). An error here aborts actor startup.
	Probe(io *hidio.Device) error
	// LoadProfiles populates info's Profiles (and their nested
	// resolutions/buttons/LEDs) from the device's current state. It may
	// resize any of those sequences.
	LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error
	// Commit pushes pending changes in info to the device. It may skip
	// profiles with Dirty == false, and must not mutate info.
	Commit(io *hidio.Device, info *model.DeviceInfo) error
}

// Factory builds a fresh Driver instance.
type Factory func() Driver

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register associates name with factory. Calling Register twice for the
// same name replaces the previous factory; drivers typically call this from
// an init function.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// New instantiates the driver registered under name.
func New(name string) (Driver, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driverapi: no driver registered as %q", name)
	}
	return factory(), nil
}

// Names returns every registered driver name.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
