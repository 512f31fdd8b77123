package cache

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sectorfs/sectorfs/sector"
)

// memDevice is an in-memory Device stand-in so cache tests don't need a
// real file-backed sectordev.Device.
type memDevice struct {
	mu      sync.Mutex
	sectors map[sector.Number][sector.Size]byte
	reads   int
	writes  int
}

func newMemDevice() *memDevice {
	return &memDevice{sectors: make(map[sector.Number][sector.Size]byte)}
}

func (d *memDevice) ReadSector(n sector.Number, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	s := d.sectors[n]
	copy(buf, s[:])
	return nil
}

func (d *memDevice) WriteSector(n sector.Number, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	var s [sector.Size]byte
	copy(s[:], buf)
	d.sectors[n] = s
	return nil
}

func newTestCache(dev Device) *Cache {
	return New(dev, WithFlushInterval(time.Hour))
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	defer c.Destroy()

	want := bytes.Repeat([]byte{0x7E}, sector.Size)
	if err := c.Write(5, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, sector.Size)
	if err := c.Read(5, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("read did not return what was written")
	}
}

func TestWriteIsNotImmediatelyPersisted(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	defer c.Destroy()

	if err := c.Write(1, make([]byte, sector.Size)); err != nil {
		t.Fatal(err)
	}
	if dev.writes != 0 {
		t.Fatalf("expected the write to stay buffered, but device saw %d writes", dev.writes)
	}
}

func TestFlushAllPersistsDirtySlots(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	defer c.Destroy()

	if err := c.Write(1, make([]byte, sector.Size)); err != nil {
		t.Fatal(err)
	}
	if err := c.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if dev.writes != 1 {
		t.Fatalf("expected exactly one write-back, got %d", dev.writes)
	}
	if err := c.FlushAll(); err != nil {
		t.Fatal(err)
	}
	if dev.writes != 1 {
		t.Fatalf("expected FlushAll to be a no-op on a clean cache, got %d writes", dev.writes)
	}
}

func TestFillingAllSlotsEvictsLeastRecentlyUsed(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	defer c.Destroy()

	buf := make([]byte, sector.Size)
	for i := 0; i < NSlots+1; i++ {
		if err := c.Read(sector.Number(i), buf); err != nil {
			t.Fatal(err)
		}
	}
	if dev.reads != NSlots+1 {
		t.Fatalf("expected %d reads to have reached the device, got %d", NSlots+1, dev.reads)
	}

	// Sector 0 should have been evicted to make room for sector NSlots,
	// so reading it again must fault back to the device.
	if err := c.Read(0, buf); err != nil {
		t.Fatal(err)
	}
	if dev.reads != NSlots+2 {
		t.Fatalf("expected sector 0 to have been evicted and refetched, reads=%d", dev.reads)
	}
}

func TestPartialReadWrite(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	defer c.Destroy()

	full := bytes.Repeat([]byte{0xFF}, sector.Size)
	if err := c.Write(2, full); err != nil {
		t.Fatal(err)
	}
	if err := c.WritePartial(2, []byte{0x00, 0x01}, 10, 2); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 4)
	if err := c.ReadPartial(2, out, 9, 4); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xFF, 0x00, 0x01, 0xFF}
	if !bytes.Equal(out, want) {
		t.Fatalf("ReadPartial = %x, want %x", out, want)
	}
}

func TestReadAheadIsNonBlockingAndWarmsCache(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	defer c.Destroy()

	c.ReadAhead(9)
	deadline := time.Now().Add(time.Second)
	for dev.reads == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if dev.reads == 0 {
		t.Fatal("expected the read-ahead goroutine to have warmed sector 9")
	}
}

func TestDestroyFlushesBeforeStopping(t *testing.T) {
	dev := newMemDevice()
	c := newTestCache(dev)
	if err := c.Write(3, make([]byte, sector.Size)); err != nil {
		t.Fatal(err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatal(err)
	}
	if dev.writes != 1 {
		t.Fatalf("expected Destroy to flush the one dirty slot, got %d writes", dev.writes)
	}
}
