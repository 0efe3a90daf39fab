// Package hotplug implements the coordinator that turns device-action
// messages into actors: on Add it matches the device database, spawns an
// actor, and registers the resulting object tree with the IPC surface; on
// Remove it shuts the actor down and unregisters the device.
package hotplug

import (
	"context"
	"log/slog"

	"github.com/hidctl/mousectld/internal/actor"
	"github.com/hidctl/mousectld/internal/devicedb"
	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

// DeviceAction is a hotplug event produced by an external device-event
// source (a udev monitor or equivalent); the coordinator is the only
// consumer.
type DeviceAction interface {
	isDeviceAction()
}

// AddAction reports a newly appeared HID device.
type AddAction struct {
	Sysname string
	Devnode string
	Name    string
	Bustype string
	VID     uint16
	PID     uint16
}

func (AddAction) isDeviceAction() {}

// RemoveAction reports a HID device that has gone away.
type RemoveAction struct {
	Sysname string
}

func (RemoveAction) isDeviceAction() {}

// IPCRegistrar is the narrow interface the coordinator calls into to
// publish and retract device object trees. A real implementation runs the
// process's external IPC surface; tests supply a double.
type IPCRegistrar interface {
	RegisterDevice(sysname string, handle *model.Handle, commit func(context.Context) error)
	UnregisterDevice(sysname string)
}

// OpenFunc opens the HID device node at devnode. Overridable for testing.
type OpenFunc func(devnode string) (*hidio.Device, error)

type coordinatorEntry struct {
	actor  *actor.Actor
	handle *model.Handle
}

// Coordinator owns the live set of spawned actors, keyed by sysname.
type Coordinator struct {
	db       *devicedb.DB
	registry IPCRegistrar
	open     OpenFunc
	log      *slog.Logger

	mu      chanMutex
	entries map[string]*coordinatorEntry
}

// chanMutex is a trivial channel-based mutex, used instead of sync.Mutex so
// the coordinator's single-owner intent (from the concurrency model) is
// visible at the call site rather than implicit in a field type.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// New constructs a Coordinator over db, publishing accepted devices through
// registry and opening HID device nodes with open.
func New(db *devicedb.DB, registry IPCRegistrar, open OpenFunc, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		db:       db,
		registry: registry,
		open:     open,
		log:      log,
		mu:       newChanMutex(),
		entries:  map[string]*coordinatorEntry{},
	}
}

// Run consumes actions until ctx is cancelled or actions is closed.
func (c *Coordinator) Run(ctx context.Context, actions <-chan DeviceAction) {
	for {
		select {
		case action, ok := <-actions:
			if !ok {
				return
			}
			c.handle(action)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handle(action DeviceAction) {
	switch a := action.(type) {
	case AddAction:
		c.handleAdd(a)
	case RemoveAction:
		c.handleRemove(a)
	}
}

func (c *Coordinator) handleAdd(a AddAction) {
	entry, ok := c.db.Lookup(a.Bustype, a.VID, a.PID)
	if !ok {
		c.log.Info("no device-database match, dropping", "sysname", a.Sysname, "bustype", a.Bustype, "vid", a.VID, "pid", a.PID)
		return
	}

	info := model.Skeleton(a.Sysname, entry.Name, model.BuildModel(a.Bustype, a.VID, a.PID), entry.Config)
	handle := model.NewHandle(info)

	var commit func(context.Context) error
	drv, err := driverapi.New(entry.Driver)
	if err != nil {
		c.log.Warn("no driver registered", "driver", entry.Driver, "sysname", a.Sysname)
	} else if dev, err := c.open(a.Devnode); err != nil {
		c.log.Warn("failed to open device node", "devnode", a.Devnode, "error", err)
	} else if act, err := actor.Spawn(a.Sysname, dev, drv, handle, c.log); err != nil {
		c.log.Warn("actor spawn failed, publishing read-only skeleton", "sysname", a.Sysname, "error", err)
	} else {
		commit = func(context.Context) error { return act.Commit() }
		c.mu.Lock()
		c.entries[a.Sysname] = &coordinatorEntry{actor: act, handle: handle}
		c.mu.Unlock()
	}

	c.registry.RegisterDevice(a.Sysname, handle, commit)
}

func (c *Coordinator) handleRemove(a RemoveAction) {
	c.mu.Lock()
	entry, ok := c.entries[a.Sysname]
	if ok {
		delete(c.entries, a.Sysname)
	}
	c.mu.Unlock()

	if ok {
		entry.actor.Shutdown()
	}
	c.registry.UnregisterDevice(a.Sysname)
}
