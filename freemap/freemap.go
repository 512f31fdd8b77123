// Package freemap implements the free-map allocator: the external
// collaborator the indexed inode calls into to obtain and release
// runs of data sectors. It is a bitmap, one bit per absolute device
// sector, persisted directly to the block device — never through the
// buffer cache, since metadata caching outside the sector cache is
// explicitly out of scope for the storage core.
package freemap

import (
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"

	"github.com/sectorfs/sectorfs/sector"
)

// blockDevice is the slice of sectordev.Device the free-map needs;
// declared locally so freemap does not import sectordev, mirroring how
// spec.md treats the block device and the allocator as independent
// external collaborators of the cache/inode core.
type blockDevice interface {
	ReadSector(n sector.Number, buf []byte) error
	WriteSector(n sector.Number, buf []byte) error
}

// Map is the free-map allocator. Bit i stands for absolute device
// sector i, for `count` sectors; `base` is the first device sector of
// the persisted bitmap itself.
type Map struct {
	mu    sync.Mutex
	dev   blockDevice
	base  sector.Number
	count uint32
	bits  bitmap.Bitmap
}

// sectorsForBitmap returns how many whole sectors are needed to store
// a bitmap covering count bits.
func sectorsForBitmap(count uint32) uint32 {
	bytes := bitmap.NewSlice(int(count))
	return (uint32(len(bytes)) + sector.Size - 1) / sector.Size
}

// Create initializes a fresh, all-free bitmap covering device sectors
// 0 through count-1, and persists it starting at device sector `base`.
func Create(dev blockDevice, base sector.Number, count uint32) (*Map, error) {
	m := &Map{
		dev:   dev,
		base:  base,
		count: count,
		bits:  bitmap.NewSlice(int(count)),
	}
	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads an existing bitmap covering `count` device sectors back
// from device sector `base`.
func Load(dev blockDevice, base sector.Number, count uint32) (*Map, error) {
	m := &Map{
		dev:   dev,
		base:  base,
		count: count,
		bits:  bitmap.NewSlice(int(count)),
	}
	nsec := sectorsForBitmap(count)
	buf := make([]byte, nsec*sector.Size)
	for i := uint32(0); i < nsec; i++ {
		if err := dev.ReadSector(base+i, buf[i*sector.Size:(i+1)*sector.Size]); err != nil {
			return nil, fmt.Errorf("freemap: load: %w", err)
		}
	}
	copy(m.bits, buf)
	return m, nil
}

// SectorCount returns how many device sectors the persisted bitmap
// occupies, for superblock layout purposes.
func SectorCount(count uint32) uint32 {
	return sectorsForBitmap(count)
}

// Allocate finds n consecutive free sectors, marks them used, and
// returns the first one. Bit i of the map corresponds to absolute
// device sector i, so callers that size the map over the whole device
// (as sectorfs.Format does, pre-marking its own metadata sectors used)
// get back ready-to-use absolute sector numbers with no further
// offsetting. The inode layer only ever calls this with n=1.
func (m *Map) Allocate(n int) (sector.Number, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := 0
	for i := 0; i < int(m.count); i++ {
		if !m.bits.Get(i) {
			run++
			if run == n {
				start := i - n + 1
				for j := start; j <= i; j++ {
					m.bits.Set(j, true)
				}
				return sector.Number(start), true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Release marks n sectors starting at `start` as free again.
func (m *Map) Release(start sector.Number, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for j := int(start); j < int(start)+n; j++ {
		m.bits.Set(j, false)
	}
}

// Persist writes the bitmap back to its reserved device sectors.
func (m *Map) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Map) persistLocked() error {
	nsec := sectorsForBitmap(m.count)
	buf := make([]byte, nsec*sector.Size)
	copy(buf, m.bits)
	for i := uint32(0); i < nsec; i++ {
		if err := m.dev.WriteSector(m.base+i, buf[i*sector.Size:(i+1)*sector.Size]); err != nil {
			return fmt.Errorf("freemap: persist: %w", err)
		}
	}
	return nil
}
