package driverr

import (
	"errors"
	"testing"
)

func TestIoErrorUnwraps(t *testing.T) {
	cause := errors.New("device disconnected")
	err := IoError(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestTimeoutCarriesAttempts(t *testing.T) {
	err := Timeout(3)
	if !Is(err, KindTimeout) {
		t.Fatalf("expected KindTimeout")
	}
	if err.Attempts != 3 {
		t.Fatalf("expected attempts 3, got %d", err.Attempts)
	}
}

func TestChecksumMismatchFields(t *testing.T) {
	err := ChecksumMismatch(0x31, 0x20)
	if !Is(err, KindChecksumMismatch) {
		t.Fatalf("expected KindChecksumMismatch")
	}
	if err.Computed != 0x31 || err.Received != 0x20 {
		t.Fatalf("unexpected fields: %+v", err)
	}
}

func TestIsReturnsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindTimeout) {
		t.Fatalf("expected Is to reject a non-driverr error")
	}
}
