package inode

import "github.com/sectorfs/sectorfs/sector"

// indexToSector translates a logical sector index within d to a
// device sector number, walking direct, single-indirect, then
// double-indirect pointers in turn. Returns sector.None if idx is
// past the addressable index space.
func indexToSector(d *onDisk, c Cache, idx int64) sector.Number {
	if idx < numDirect {
		return d.direct[idx]
	}
	idx -= numDirect

	if idx < perIndirect {
		ib, err := readIndirect(c, d.singleIndirect)
		if err != nil {
			return sector.None
		}
		return ib[idx]
	}
	idx -= perIndirect

	if idx < int64(perIndirect)*int64(perIndirect) {
		outer := idx / perIndirect
		inner := idx % perIndirect

		outerBlock, err := readIndirect(c, d.doubleIndirect)
		if err != nil {
			return sector.None
		}
		innerBlock, err := readIndirect(c, outerBlock[outer])
		if err != nil {
			return sector.None
		}
		return innerBlock[inner]
	}

	return sector.None
}

// byteToSector translates a byte offset to a device sector number, or
// sector.None if pos lies at or past length.
func byteToSector(d *onDisk, c Cache, pos int64, length int64) sector.Number {
	if pos < 0 || pos >= length {
		return sector.None
	}
	return indexToSector(d, c, pos/sector.Size)
}

func readIndirect(c Cache, at sector.Number) (indirectBlock, error) {
	var buf [sector.Size]byte
	if err := c.Read(at, buf[:]); err != nil {
		return indirectBlock{}, err
	}
	return decodeIndirectBlock(buf), nil
}

// tracker records every sector allocated during one grow() call so
// they can all be released if a later step in the same call fails —
// growth either succeeds wholly or leaves no trace, rather than
// leaking the partially-allocated tail the original design leaves
// behind (spec.md §9).
type tracker struct {
	allocated []sector.Number
}

func (t *tracker) alloc(a Allocator) (sector.Number, bool) {
	s, ok := a.Allocate(1)
	if ok {
		t.allocated = append(t.allocated, s)
	}
	return s, ok
}

func (t *tracker) rollback(a Allocator) {
	for _, s := range t.allocated {
		a.Release(s, 1)
	}
}

// allocZeroed allocates one fresh sector and zero-fills it through the
// cache.
func allocZeroed(c Cache, a Allocator, t *tracker) (sector.Number, bool) {
	s, ok := t.alloc(a)
	if !ok {
		return 0, false
	}
	var zero [sector.Size]byte
	if err := c.Write(s, zero[:]); err != nil {
		return 0, false
	}
	return s, true
}

// grow ensures d addresses at least newByteLen bytes' worth of
// sectors, allocating and zeroing whatever is missing. It mutates d
// only on overall success; on failure d is left exactly as it was and
// every sector allocated during the attempt has already been released.
func grow(c Cache, a Allocator, d *onDisk, newByteLen int64) bool {
	if newByteLen < 0 {
		return false
	}
	need := int(bytesToSectors(newByteLen))
	nd := *d
	t := &tracker{}

	if !growInto(c, a, &nd, need, t) {
		t.rollback(a)
		return false
	}
	*d = nd
	return true
}

func growInto(c Cache, a Allocator, d *onDisk, need int, t *tracker) bool {
	maxIdx := minInt(need, numDirect)
	for i := 0; i < maxIdx; i++ {
		if d.direct[i] == 0 {
			s, ok := allocZeroed(c, a, t)
			if !ok {
				return false
			}
			d.direct[i] = s
		}
		need--
	}
	if need <= 0 {
		return true
	}

	maxIdx = minInt(need, perIndirect)
	if !allocIndirect(c, a, t, &d.singleIndirect, maxIdx, 1) {
		return false
	}
	need -= maxIdx
	if need <= 0 {
		return true
	}

	maxIdx = minInt(need, perIndirect*perIndirect)
	if !allocIndirect(c, a, t, &d.doubleIndirect, maxIdx, 2) {
		return false
	}
	need -= maxIdx
	return need <= 0
}

// allocIndirect populates the subtree rooted at *block (allocating the
// indirect block itself if needed) so that it can address
// sectorsNeeded further data sectors. level 0 means block addresses a
// single data sector directly (the recursion's base case); level 1
// means block is a single-indirect block whose entries are data
// sectors; level 2 means block is a double-indirect block whose
// entries are single-indirect blocks.
func allocIndirect(c Cache, a Allocator, t *tracker, block *sector.Number, sectorsNeeded int, level int) bool {
	if level == 0 {
		if *block == 0 {
			s, ok := allocZeroed(c, a, t)
			if !ok {
				return false
			}
			*block = s
		}
		return true
	}

	if *block == 0 {
		s, ok := allocZeroed(c, a, t)
		if !ok {
			return false
		}
		*block = s
	}

	ib, err := readIndirect(c, *block)
	if err != nil {
		return false
	}

	var fanout int
	if level == 1 {
		fanout = sectorsNeeded
	} else {
		fanout = (sectorsNeeded + perIndirect - 1) / perIndirect
	}

	remaining := sectorsNeeded
	for k := 0; k < fanout; k++ {
		var chunk int
		if level == 1 {
			chunk = minInt(remaining, 1)
		} else {
			chunk = minInt(remaining, perIndirect)
		}
		if !allocIndirect(c, a, t, &ib[k], chunk, level-1) {
			return false
		}
		remaining -= chunk
	}

	buf := ib.encode()
	if err := c.Write(*block, buf[:]); err != nil {
		return false
	}
	return true
}

// free releases every data, single-indirect, and double-indirect
// sector addressed by d, mirroring grow's walk. It is only ever
// called at final close of a removed inode; the inode sector itself
// is released separately by the caller.
func free(c Cache, a Allocator, d *onDisk) {
	if d.length == 0 {
		return
	}
	sectorsToFree := int(bytesToSectors(int64(d.length)))

	maxIdx := minInt(sectorsToFree, numDirect)
	for i := 0; i < maxIdx; i++ {
		a.Release(d.direct[i], 1)
		sectorsToFree--
	}

	maxIdx = minInt(sectorsToFree, perIndirect)
	if maxIdx > 0 {
		freeIndirect(c, a, d.singleIndirect, maxIdx, 1)
		sectorsToFree -= maxIdx
	}

	maxIdx = minInt(sectorsToFree, perIndirect*perIndirect)
	if maxIdx > 0 {
		freeIndirect(c, a, d.doubleIndirect, maxIdx, 2)
		sectorsToFree -= maxIdx
	}
}

func freeIndirect(c Cache, a Allocator, block sector.Number, count int, level int) {
	if level == 0 {
		a.Release(block, 1)
		return
	}

	ib, err := readIndirect(c, block)
	if err != nil {
		// Can't read the indirect block's contents to recurse further;
		// still release the indirect block sector itself.
		a.Release(block, 1)
		return
	}

	var fanout int
	if level == 1 {
		fanout = count
	} else {
		fanout = (count + perIndirect - 1) / perIndirect
	}

	remaining := count
	for k := 0; k < fanout; k++ {
		var chunk int
		if level == 1 {
			chunk = minInt(remaining, 1)
		} else {
			chunk = minInt(remaining, perIndirect)
		}
		freeIndirect(c, a, ib[k], chunk, level-1)
		remaining -= chunk
	}
	a.Release(block, 1)
}
