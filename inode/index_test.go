package inode

import (
	"testing"

	"github.com/sectorfs/sectorfs/sector"
)

// failingAfterN allocates normally for the first n calls, then always
// fails — used to exercise grow's rollback-on-failure path.
type failingAfterN struct {
	*fakeAllocator
	n int
}

func (a *failingAfterN) Allocate(count int) (sector.Number, bool) {
	if a.n <= 0 {
		return 0, false
	}
	a.n--
	return a.fakeAllocator.Allocate(count)
}

func TestGrowDirectOnly(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	var d onDisk
	if !grow(c, a, &d, sector.Size*3) {
		t.Fatal("grow failed")
	}
	for i := 0; i < 3; i++ {
		if d.direct[i] == 0 {
			t.Fatalf("direct[%d] was not allocated", i)
		}
	}
	if d.singleIndirect != 0 {
		t.Fatal("singleIndirect should be untouched for a direct-only grow")
	}
}

func TestGrowIdempotentOnSameSize(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	var d onDisk
	if !grow(c, a, &d, sector.Size*5) {
		t.Fatal("grow failed")
	}
	before := d.direct

	if !grow(c, a, &d, sector.Size*5) {
		t.Fatal("second grow to the same size failed")
	}
	if d.direct != before {
		t.Fatal("growing to an already-satisfied size should not reallocate")
	}
}

func TestGrowAcrossSingleIndirectBoundary(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	var d onDisk
	size := int64(numDirect+1) * sector.Size
	if !grow(c, a, &d, size) {
		t.Fatal("grow failed")
	}
	if d.singleIndirect == 0 {
		t.Fatal("expected the single-indirect block to be allocated")
	}
	ib, err := readIndirect(c, d.singleIndirect)
	if err != nil {
		t.Fatal(err)
	}
	if ib[0] == 0 {
		t.Fatal("expected the first single-indirect entry to be populated")
	}
}

func TestGrowAcrossDoubleIndirectBoundary(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	var d onDisk
	size := int64(numDirect+perIndirect+1) * sector.Size
	if !grow(c, a, &d, size) {
		t.Fatal("grow failed")
	}
	if d.doubleIndirect == 0 {
		t.Fatal("expected the double-indirect block to be allocated")
	}
	outer, err := readIndirect(c, d.doubleIndirect)
	if err != nil {
		t.Fatal(err)
	}
	if outer[0] == 0 {
		t.Fatal("expected the first double-indirect outer entry to be populated")
	}
	inner, err := readIndirect(c, outer[0])
	if err != nil {
		t.Fatal(err)
	}
	if inner[0] == 0 {
		t.Fatal("expected the first double-indirect inner entry to be populated")
	}
}

func TestGrowRollsBackOnPartialFailure(t *testing.T) {
	c := newFakeCache()
	base := newFakeAllocator()
	// Allow exactly 2 allocations to succeed, then fail: enough to
	// populate direct[0] and direct[1] but not direct[2].
	a := &failingAfterN{fakeAllocator: base, n: 2}

	var d onDisk
	if grow(c, a, &d, sector.Size*3) {
		t.Fatal("expected grow to fail when the 3rd allocation is refused")
	}
	if d.direct != ([numDirect]sector.Number{}) {
		t.Fatal("expected d to be left completely unmodified after a failed grow")
	}
	if len(base.free) != 2 {
		t.Fatalf("expected the 2 sectors allocated before the failure to be released, got %d", len(base.free))
	}
}

func TestFreeReleasesDirectAndIndirectSectors(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	var d onDisk
	size := int64(numDirect+perIndirect+1) * sector.Size
	if !grow(c, a, &d, size) {
		t.Fatal("grow failed")
	}
	d.length = int32(size)

	free(c, a, &d)

	// data sectors (123 direct + 128 + 1) + the single-indirect block +
	// the double-indirect root block + its one populated inner block.
	wantFreed := numDirect + perIndirect + 1 + 3
	if len(a.free) != wantFreed {
		t.Fatalf("expected exactly %d sectors released, got %d", wantFreed, len(a.free))
	}
}

func TestFreeOfEmptyInodeIsNoop(t *testing.T) {
	c := newFakeCache()
	a := newFakeAllocator()
	var d onDisk
	free(c, a, &d)
	if len(a.free) != 0 {
		t.Fatal("expected freeing a zero-length inode to release nothing")
	}
}
