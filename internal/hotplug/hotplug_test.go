package hotplug

import (
	"context"
	"testing"
	"time"

	"github.com/hidctl/mousectld/internal/devicedb"
	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/hidio/hidiotest"
	"github.com/hidctl/mousectld/internal/model"
	"github.com/stretchr/testify/require"
)

type stubDriver struct{}

func (stubDriver) Name() string                                          { return "hotplug-test-driver" }
func (stubDriver) Probe(io *hidio.Device) error                          { return nil }
func (stubDriver) LoadProfiles(io *hidio.Device, info *model.DeviceInfo) error {
	info.Profiles = []model.ProfileInfo{{Index: 0, Active: true}}
	return nil
}
func (stubDriver) Commit(io *hidio.Device, info *model.DeviceInfo) error { return nil }

func registerStubDriverOnce() {
	driverapi.Register("hotplug-test-driver", func() driverapi.Driver { return stubDriver{} })
}

func testDB(t *testing.T) *devicedb.DB {
	t.Helper()
	return devicedb.New([]devicedb.Entry{{
		Name:       "Logitech G-Test",
		Driver:     "hotplug-test-driver",
		DeviceType: "mouse",
		Matches:    []devicedb.DeviceMatch{{Bus: "usb", VID: 0x046d, PID: 0xc539}},
	}})
}

type fakeRegistrar struct {
	registered   []string
	unregistered []string
	commits      map[string]func(context.Context) error
	handles      map[string]*model.Handle
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{
		commits: map[string]func(context.Context) error{},
		handles: map[string]*model.Handle{},
	}
}

func (f *fakeRegistrar) RegisterDevice(sysname string, handle *model.Handle, commit func(context.Context) error) {
	f.registered = append(f.registered, sysname)
	f.commits[sysname] = commit
	f.handles[sysname] = handle
}

func (f *fakeRegistrar) UnregisterDevice(sysname string) {
	f.unregistered = append(f.unregistered, sysname)
}

func openSimulated(t *testing.T) (OpenFunc, func()) {
	t.Helper()
	var closers []func()
	open := func(devnode string) (*hidio.Device, error) {
		dev, hw, err := hidiotest.PipePair()
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { hw.Close() })
		return dev, nil
	}
	return open, func() {
		for _, c := range closers {
			c()
		}
	}
}

func TestHandleAddWithMatchRegistersExactlyOnce(t *testing.T) {
	registerStubDriverOnce()
	open, cleanup := openSimulated(t)
	defer cleanup()

	reg := newFakeRegistrar()
	c := New(testDB(t), reg, open, nil)

	actions := make(chan DeviceAction, 1)
	actions <- AddAction{Sysname: "mouse0", Devnode: "/dev/hidraw0", Bustype: "usb", VID: 0x046d, PID: 0xc539}
	close(actions)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Run(ctx, actions)

	require.Equal(t, []string{"mouse0"}, reg.registered)
	require.NotNil(t, reg.commits["mouse0"])
	require.NoError(t, reg.commits["mouse0"](context.Background()))

	c.mu.Lock()
	_, ok := c.entries["mouse0"]
	c.mu.Unlock()
	require.True(t, ok)
}

func TestHandleAddWithoutMatchRegistersNothing(t *testing.T) {
	registerStubDriverOnce()
	open, cleanup := openSimulated(t)
	defer cleanup()

	reg := newFakeRegistrar()
	c := New(testDB(t), reg, open, nil)

	actions := make(chan DeviceAction, 1)
	actions <- AddAction{Sysname: "mouse1", Devnode: "/dev/hidraw1", Bustype: "usb", VID: 0xdead, PID: 0xbeef}
	close(actions)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Run(ctx, actions)

	require.Empty(t, reg.registered)

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	require.Equal(t, 0, n)
}

func TestHandleAddWithUnregisteredDriverStillPublishesSkeleton(t *testing.T) {
	open, cleanup := openSimulated(t)
	defer cleanup()

	db := devicedb.New([]devicedb.Entry{{
		Name:    "Unknown Driver Mouse",
		Driver:  "no-such-driver",
		Matches: []devicedb.DeviceMatch{{Bus: "usb", VID: 0x1111, PID: 0x2222}},
	}})
	reg := newFakeRegistrar()
	c := New(db, reg, open, nil)

	actions := make(chan DeviceAction, 1)
	actions <- AddAction{Sysname: "mouse2", Devnode: "/dev/hidraw2", Bustype: "usb", VID: 0x1111, PID: 0x2222}
	close(actions)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Run(ctx, actions)

	require.Equal(t, []string{"mouse2"}, reg.registered)
	require.Nil(t, reg.commits["mouse2"])

	c.mu.Lock()
	_, ok := c.entries["mouse2"]
	c.mu.Unlock()
	require.False(t, ok)
}

func TestHandleRemoveShutsDownActorAndUnregisters(t *testing.T) {
	registerStubDriverOnce()
	open, cleanup := openSimulated(t)
	defer cleanup()

	reg := newFakeRegistrar()
	c := New(testDB(t), reg, open, nil)

	actions := make(chan DeviceAction, 2)
	actions <- AddAction{Sysname: "mouse3", Devnode: "/dev/hidraw3", Bustype: "usb", VID: 0x046d, PID: 0xc539}
	actions <- RemoveAction{Sysname: "mouse3"}
	close(actions)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Run(ctx, actions)

	require.Equal(t, []string{"mouse3"}, reg.unregistered)

	c.mu.Lock()
	_, ok := c.entries["mouse3"]
	c.mu.Unlock()
	require.False(t, ok)
}

func TestHandleRemoveUnknownSysnameStillUnregisters(t *testing.T) {
	reg := newFakeRegistrar()
	c := New(devicedb.New(nil), reg, nil, nil)

	actions := make(chan DeviceAction, 1)
	actions <- RemoveAction{Sysname: "ghost"}
	close(actions)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Run(ctx, actions)

	require.Equal(t, []string{"ghost"}, reg.unregistered)
}
