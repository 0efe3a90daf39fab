// Package hidio is the exclusive, single-owner transport for one HID
// character device: blocking report read/write, synchronous feature-report
// ioctls, and a request/response correlator with bounded retries.
package hidio

import (
	"context"
	"os"
	"time"
	"unsafe"

	"github.com/karalabe/hid"
	"golang.org/x/sys/unix"

	"github.com/hidctl/mousectld/internal/driverr"
)

// Linux HIDIOCGFEATURE/HIDIOCSFEATURE ioctl numbers, per <linux/hid.h>:
// _IOC(_IOC_READ|_IOC_WRITE, 'H', nr, len). _IOC_WRITE is 1 and _IOC_READ
// is 2; together they give 3, shifted into the direction field at bit 30,
// giving 3<<30 for a read+write transfer.
const (
	iocDirReadWrite      = 3 << 30
	hidiocGetFeatureNr   = 0x07
	hidiocSetFeatureNr   = 0x06
)

func featureIoctl(nr uintptr, length int) uintptr {
	return iocDirReadWrite | ('H' << 8) | nr | (uintptr(length) << 16)
}

// DefaultMaxReadsPerAttempt bounds how many reads Request issues per write
// attempt before giving up and retrying the write.
const DefaultMaxReadsPerAttempt = 10

// DefaultReadTimeout is the per-read deadline Request uses.
const DefaultReadTimeout = 500 * time.Millisecond

// EnumerateInfo summarizes one discoverable HID device.
type EnumerateInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
}

// Enumerate lists connected HID devices, optionally filtered by vendor or
// product id (0 meaning "any").
func Enumerate(vendorID, productID uint16) []EnumerateInfo {
	raw := hid.Enumerate(vendorID, productID)
	out := make([]EnumerateInfo, 0, len(raw))
	for _, d := range raw {
		out = append(out, EnumerateInfo{
			Path:         d.Path,
			VendorID:     d.VendorID,
			ProductID:    d.ProductID,
			Manufacturer: d.Manufacturer,
			Product:      d.Product,
		})
	}
	return out
}

// Device is a single exclusively-owned HID character device connection. It
// is not safe for concurrent use; an owning actor must serialize all calls.
type Device struct {
	f *os.File
}

// Open opens the hidraw character device at path (e.g. "/dev/hidraw3") for
// both report I/O and feature-report ioctls.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, driverr.IoError(err)
	}
	return &Device{f: f}, nil
}

// FromFile wraps an already-open file descriptor as a Device. Production
// code has no need for this beyond Open; it exists so driver packages can
// exercise Request-based protocol logic in tests against a socketpair
// standing in for a hidraw node, without the GetFeature/SetFeature ioctls
// (which require a real hidraw character device).
func FromFile(f *os.File) *Device {
	return &Device{f: f}
}

// Close releases the underlying file handle.
func (d *Device) Close() error {
	return d.f.Close()
}

// Write sends report as an output report.
func (d *Device) Write(report []byte) error {
	if _, err := d.f.Write(report); err != nil {
		return driverr.IoError(err)
	}
	return nil
}

// Read blocks until an input report arrives or timeout elapses, returning
// the number of bytes read into buf.
func (d *Device) Read(buf []byte, timeout time.Duration) (int, error) {
	if err := d.f.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, driverr.IoError(err)
	}
	n, err := d.f.Read(buf)
	if err != nil {
		return 0, driverr.IoError(err)
	}
	return n, nil
}

// GetFeature issues a HIDIOCGFEATURE ioctl. buf[0] must already hold the
// report id; on success buf is overwritten with the device's reply.
func (d *Device) GetFeature(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, driverr.InvalidArgs("GetFeature requires a non-empty buffer")
	}
	req := featureIoctl(hidiocGetFeatureNr, len(buf))
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return 0, driverr.IoctlFailed(errno)
	}
	return int(n), nil
}

// SetFeature issues a HIDIOCSFEATURE ioctl. buf[0] must hold the report id.
func (d *Device) SetFeature(buf []byte) error {
	if len(buf) == 0 {
		return driverr.InvalidArgs("SetFeature requires a non-empty buffer")
	}
	req := featureIoctl(hidiocSetFeatureNr, len(buf))
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return driverr.IoctlFailed(errno)
	}
	return nil
}

// reportTransport is the subset of Device's behavior Request depends on,
// factored out so the retry/timeout logic can be exercised without a real
// hidraw character device.
type reportTransport interface {
	Write(report []byte) error
	Read(buf []byte, timeout time.Duration) (int, error)
}

// Request writes report, then reads up to DefaultMaxReadsPerAttempt
// responses (each bounded by DefaultReadTimeout) looking for one that
// match accepts. If no read in an attempt matches, report is rewritten and
// the process repeats, up to maxAttempts times, after which Request returns
// a driverr timeout error.
func Request[T any](ctx context.Context, d reportTransport, report []byte, readSize int, maxAttempts int, match func([]byte) (T, bool)) (T, error) {
	var zero T
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, driverr.IoError(ctx.Err())
		}
		if err := d.Write(report); err != nil {
			return zero, err
		}
		for read := 0; read < DefaultMaxReadsPerAttempt; read++ {
			if ctx.Err() != nil {
				return zero, driverr.IoError(ctx.Err())
			}
			buf := make([]byte, readSize)
			n, err := d.Read(buf, DefaultReadTimeout)
			if err != nil {
				continue
			}
			if v, ok := match(buf[:n]); ok {
				return v, nil
			}
		}
	}
	return zero, driverr.Timeout(maxAttempts)
}
