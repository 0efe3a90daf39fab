// Package hidiotest provides a socketpair-backed stand-in for a hidraw
// character device, letting protocol drivers exercise their
// write/read/request logic in tests without real hardware.
package hidiotest

import (
	"os"
	"syscall"

	"github.com/hidctl/mousectld/internal/hidio"
)

// PipePair returns a *hidio.Device wrapping one end of a bidirectional
// socketpair, and the other end as a plain *os.File a test can drive to
// play the role of the hardware (writing canned responses, reading
// requests). Both ends must be closed by the caller.
func PipePair() (*hidio.Device, *os.File, error) {
	// SOCK_DGRAM preserves message boundaries, so each Write on one end
	// arrives as exactly one Read on the other, matching hidraw's
	// report-at-a-time semantics.
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return nil, nil, err
	}
	// The device end must be non-blocking so os.NewFile registers it with
	// the runtime poller; otherwise hidio's read deadlines are unsupported.
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return nil, nil, err
	}
	deviceEnd := os.NewFile(uintptr(fds[0]), "hidiotest-device")
	hardwareEnd := os.NewFile(uintptr(fds[1]), "hidiotest-hardware")
	return hidio.FromFile(deviceEnd), hardwareEnd, nil
}
