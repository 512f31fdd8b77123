package inode

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sectorfs/sectorfs/sector"
)

// fakeCache is a minimal in-memory stand-in for cache.Cache, sized
// large enough that growth across the direct/indirect boundaries in
// these tests never runs out of backing storage.
type fakeCache struct {
	mu      sync.Mutex
	sectors map[sector.Number][sector.Size]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{sectors: make(map[sector.Number][sector.Size]byte)}
}

func (c *fakeCache) Read(s sector.Number, out []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.sectors[s]
	copy(out, buf[:])
	return nil
}

func (c *fakeCache) ReadPartial(s sector.Number, out []byte, offset, length int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.sectors[s]
	copy(out[:length], buf[offset:offset+length])
	return nil
}

func (c *fakeCache) Write(s sector.Number, in []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf [sector.Size]byte
	copy(buf[:], in)
	c.sectors[s] = buf
	return nil
}

func (c *fakeCache) WritePartial(s sector.Number, in []byte, offset, length int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.sectors[s]
	copy(buf[offset:offset+length], in[:length])
	c.sectors[s] = buf
	return nil
}

func (c *fakeCache) ReadAhead(s sector.Number) {}

// fakeAllocator hands out sequential sector numbers starting at 1 (0
// is reserved, matching how a zero pointer is treated as "unset" by
// the on-disk layout).
type fakeAllocator struct {
	mu   sync.Mutex
	next sector.Number
	free map[sector.Number]bool
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{next: 1, free: make(map[sector.Number]bool)}
}

func (a *fakeAllocator) Allocate(n int) (sector.Number, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n != 1 {
		panic("fakeAllocator only supports n=1")
	}
	s := a.next
	a.next++
	return s, true
}

func (a *fakeAllocator) Release(start sector.Number, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < n; i++ {
		a.free[start+sector.Number(i)] = true
	}
}

func TestCreateAndReadAtRoundTrip(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	reg := NewRegistry(c, a)

	if !reg.Create(100, 10, false) {
		t.Fatal("Create failed")
	}
	h, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close(h)

	if h.Length() != 10 {
		t.Fatalf("Length() = %d, want 10", h.Length())
	}

	payload := []byte("abcdefghij")
	if n := h.WriteAt(c, a, payload, 0); n != len(payload) {
		t.Fatalf("WriteAt returned %d, want %d", n, len(payload))
	}

	out := make([]byte, len(payload))
	if n := h.ReadAt(c, out, 0); n != len(payload) {
		t.Fatalf("ReadAt returned %d, want %d", n, len(payload))
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("ReadAt = %q, want %q", out, payload)
	}
}

func TestWriteAtExtendsFile(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	reg := NewRegistry(c, a)
	if !reg.Create(100, 0, false) {
		t.Fatal("Create failed")
	}
	h, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close(h)

	payload := bytes.Repeat([]byte{0x42}, sector.Size*3+17)
	if n := h.WriteAt(c, a, payload, 0); n != len(payload) {
		t.Fatalf("WriteAt returned %d, want %d", n, len(payload))
	}
	if h.Length() != int64(len(payload)) {
		t.Fatalf("Length() = %d, want %d", h.Length(), len(payload))
	}

	out := make([]byte, len(payload))
	if n := h.ReadAt(c, out, 0); n != len(payload) {
		t.Fatalf("ReadAt returned %d, want %d", n, len(payload))
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("read back data does not match what was written")
	}
}

func TestWriteAtCrossesSingleIndirectBoundary(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	reg := NewRegistry(c, a)
	if !reg.Create(100, 0, false) {
		t.Fatal("Create failed")
	}
	h, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close(h)

	// numDirect (123) sectors' worth, plus one more byte, forces
	// allocation of the single-indirect block and its first entry.
	size := int64(numDirect)*sector.Size + 1
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	if n := h.WriteAt(c, a, payload, 0); n != len(payload) {
		t.Fatalf("WriteAt returned %d, want %d", n, len(payload))
	}

	out := make([]byte, len(payload))
	if n := h.ReadAt(c, out, 0); n != len(payload) {
		t.Fatalf("ReadAt returned %d, want %d", n, len(payload))
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("data across the single-indirect boundary did not round-trip")
	}
}

func TestReaderNeverObservesUnwrittenExtendTail(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	reg := NewRegistry(c, a)
	if !reg.Create(100, 4, false) {
		t.Fatal("Create failed")
	}
	h, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close(h)

	if n := h.WriteAt(c, a, []byte("abcd"), 0); n != 4 {
		t.Fatalf("initial WriteAt returned %d, want 4", n)
	}

	// Before any further write, readableLength must equal the
	// committed length: reading past it returns nothing, never zeros.
	out := make([]byte, 100)
	if n := h.ReadAt(c, out, 0); n != 4 {
		t.Fatalf("ReadAt returned %d bytes, want exactly the 4 committed bytes", n)
	}
}

func TestRemoveDefersReleaseUntilLastClose(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	reg := NewRegistry(c, a)
	if !reg.Create(100, sector.Size, false) {
		t.Fatal("Create failed")
	}
	h1, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected Open to return the same Handle for the same sector")
	}

	reg.Remove(h1)
	if !h1.IsRemoved() {
		t.Fatal("expected IsRemoved to report true immediately after Remove")
	}

	// Still open via h2: operations must keep succeeding.
	if n := h1.WriteAt(c, a, []byte("x"), 0); n != 1 {
		t.Fatal("expected writes to a removed-but-still-open inode to keep succeeding")
	}

	reg.Close(h1)
	reg.Close(h2)

	// The sector is now released back to the allocator; reopening the
	// same sector number allocates a brand-new Handle rather than
	// reusing the freed one, since Close already deleted it from the
	// registry.
	h3, err := reg.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatal("expected a fresh Handle after the original was fully closed")
	}
	reg.Close(h3)
}
