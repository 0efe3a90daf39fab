// Package actor implements the per-device actor: a single goroutine that
// owns one HID transport and one driver instance, serializing every
// hardware operation for that device behind a mailbox.
package actor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hidctl/mousectld/internal/driverapi"
	"github.com/hidctl/mousectld/internal/hidio"
	"github.com/hidctl/mousectld/internal/model"
)

// ErrShutdown is returned by Commit when called after the actor has
// already shut down.
var ErrShutdown = errors.New("actor: shut down")

// inboxCapacity bounds how many pending Commit requests may queue before a
// caller blocks submitting one.
const inboxCapacity = 8

type commitMsg struct {
	reply chan error
}

type shutdownMsg struct {
	done chan struct{}
}

// Actor owns one device's HID transport and driver for its lifetime. All
// access to the transport and driver happens on the actor's own goroutine;
// everything else communicates with it through its mailbox.
type Actor struct {
	sysname string
	io      *hidio.Device
	driver  driverapi.Driver
	handle  *model.Handle
	log     *slog.Logger

	inbox  chan any
	closed chan struct{}
}

// Spawn takes ownership of the already-open dev, probes and loads profiles
// with driver, and starts the
// actor's inbox loop in a new goroutine. On a probe failure, dev is closed
// and the error is returned; the caller should still register the device's
// read-only skeleton with the IPC surface, just without a live Actor.
func Spawn(sysname string, dev *hidio.Device, driver driverapi.Driver, handle *model.Handle, log *slog.Logger) (*Actor, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("sysname", sysname, "driver", driver.Name())

	if err := driver.Probe(dev); err != nil {
		dev.Close()
		return nil, fmt.Errorf("actor: probe %s: %w", sysname, err)
	}

	handle.Write(func(info *model.DeviceInfo) {
		if err := driver.LoadProfiles(dev, info); err != nil {
			log.Warn("load_profiles failed", "error", err)
		}
	})

	a := &Actor{
		sysname: sysname,
		io:      dev,
		driver:  driver,
		handle:  handle,
		log:     log,
		inbox:   make(chan any, inboxCapacity),
		closed:  make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// Commit enqueues a Commit command and blocks until it has been processed,
// returning whatever error the driver's Commit produced. Calling Commit
// after the actor has shut down returns ErrShutdown without blocking.
func (a *Actor) Commit() error {
	reply := make(chan error, 1)
	select {
	case a.inbox <- commitMsg{reply: reply}:
	case <-a.closed:
		return ErrShutdown
	}
	select {
	case err := <-reply:
		return err
	case <-a.closed:
		return ErrShutdown
	}
}

// Shutdown enqueues a Shutdown command and blocks until the inbox loop has
// drained every Commit enqueued ahead of it and exited. Calling Shutdown
// more than once is safe; later calls return immediately.
func (a *Actor) Shutdown() {
	select {
	case <-a.closed:
		return
	default:
	}
	done := make(chan struct{})
	select {
	case a.inbox <- shutdownMsg{done: done}:
		// A message queued after the loop has exited is never read; closed
		// releases this call in that case.
		select {
		case <-done:
		case <-a.closed:
		}
	case <-a.closed:
	}
}

func (a *Actor) run() {
	defer a.io.Close()
	defer close(a.closed)
	for msg := range a.inbox {
		switch m := msg.(type) {
		case commitMsg:
			var err error
			a.handle.Read(func(info *model.DeviceInfo) {
				err = a.driver.Commit(a.io, info)
			})
			if err != nil {
				a.log.Warn("commit failed", "error", err)
			}
			m.reply <- err
		case shutdownMsg:
			close(m.done)
			return
		}
	}
}
