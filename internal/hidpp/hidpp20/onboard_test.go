package hidpp20

import (
	"context"
	"testing"
	"time"

	"github.com/hidctl/mousectld/internal/hidio/hidiotest"
	"github.com/hidctl/mousectld/internal/hidpp"
)

// fakeFlash simulates a small onboard-profiles feature over the wire,
// serving sector reads from an in-memory map keyed by sector index.
type fakeFlash struct {
	sectors map[uint16][]byte
}

func (f *fakeFlash) serve(t *testing.T, hw interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
}, featureIndex byte, rounds int) {
	for i := 0; i < rounds; i++ {
		buf := make([]byte, hidpp.LongReportSize)
		n, err := hw.Read(buf)
		if err != nil {
			return
		}
		l, ok := hidpp.ParseLong(buf[:n])
		if !ok || l.SubID != featureIndex {
			continue
		}
		fn := hidpp.DecodeFunction(l.Address)
		switch fn {
		case fnSectorRead:
			sectorIdx := uint16(l.Params[0])<<8 | uint16(l.Params[1])
			offset := uint16(l.Params[2])<<8 | uint16(l.Params[3])
			data := f.sectors[sectorIdx]
			var chunk [16]byte
			copy(chunk[:], data[offset:])
			resp := hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: featureIndex, Address: l.Address, Params: chunk})
			hw.Write(resp)
		case fnSectorWriteStart, fnSectorWriteChunk, fnSectorWriteEnd:
			resp := hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: featureIndex, Address: l.Address})
			hw.Write(resp)
		}
	}
}

func TestReadSectorBytesAlignment(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i + 1)
	}
	flash := &fakeFlash{sectors: map[uint16][]byte{1: data}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		flash.serve(t, hw, 0x07, 2)
	}()

	got, err := readSectorBytes(context.Background(), dev, 0x07, 1, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish")
	}

	if string(got) != string(data) {
		t.Fatalf("unaligned read mismatch: got %v, want %v", got, data)
	}
}

func TestWriteThenReadSectorRoundtrip(t *testing.T) {
	dev, hw, err := hidiotest.PipePair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dev.Close()
	defer hw.Close()

	flash := &fakeFlash{sectors: map[uint16][]byte{}}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			buf := make([]byte, hidpp.LongReportSize)
			n, err := hw.Read(buf)
			if err != nil {
				return
			}
			l, ok := hidpp.ParseLong(buf[:n])
			if !ok {
				continue
			}
			fn := hidpp.DecodeFunction(l.Address)
			switch fn {
			case fnSectorWriteStart:
				sectorIdx := uint16(l.Params[0])<<8 | uint16(l.Params[1])
				size := uint16(l.Params[4])<<8 | uint16(l.Params[5])
				flash.sectors[sectorIdx] = make([]byte, 0, size)
				hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: l.SubID, Address: l.Address}))
			case fnSectorWriteChunk:
				for sectorIdx := range flash.sectors {
					if len(flash.sectors[sectorIdx]) < int(cap(flash.sectors[sectorIdx])) {
						remaining := cap(flash.sectors[sectorIdx]) - len(flash.sectors[sectorIdx])
						n := sectorChunkSize
						if remaining < n {
							n = remaining
						}
						flash.sectors[sectorIdx] = append(flash.sectors[sectorIdx], l.Params[:n]...)
						break
					}
				}
				hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: l.SubID, Address: l.Address}))
			case fnSectorWriteEnd:
				hw.Write(hidpp.BuildLong(hidpp.Long{DeviceIndex: deviceIndex, SubID: l.SubID, Address: l.Address}))
				return
			}
		}
	}()

	if err := writeSectorBytes(context.Background(), dev, 0x07, 3, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish")
	}

	got := flash.sectors[3]
	if len(got) != len(payload) {
		t.Fatalf("unexpected stored length: got %d, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, got[i], payload[i])
		}
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		flash.serve(t, hw, 0x07, 2)
	}()

	back, err := readSectorBytes(context.Background(), dev, 0x07, 3, len(payload))
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}

	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("simulated hardware did not finish the read-back")
	}

	if string(back) != string(payload) {
		t.Fatalf("read-back mismatch: got %v, want %v", back, payload)
	}
}
