// Package inode implements the extensible indexed inode: the
// in-memory handle and on-disk structure that maps a file's byte
// offsets to block-device sectors through direct, single-indirect,
// and double-indirect pointers, on top of the buffer cache and the
// free-map allocator.
package inode

import (
	"fmt"
	"sync"

	"github.com/sectorfs/sectorfs/sector"
)

// Cache is the slice of cache.Cache the inode layer needs.
type Cache interface {
	Read(s sector.Number, out []byte) error
	ReadPartial(s sector.Number, out []byte, offset, length int) error
	Write(s sector.Number, in []byte) error
	WritePartial(s sector.Number, in []byte, offset, length int) error
	ReadAhead(s sector.Number)
}

// Allocator is the slice of freemap.Map the inode layer needs.
type Allocator interface {
	Allocate(n int) (sector.Number, bool)
	Release(start sector.Number, n int)
}

// Handle is the in-memory inode: one instance per open inumber,
// shared by every opener via the Registry so that removed,
// denyWriteCount, and growLock are shared across all openers of the
// same sector.
type Handle struct {
	sector sector.Number

	mu             sync.Mutex // guards openCount, removed, denyWriteCount
	openCount      int
	removed        bool
	denyWriteCount int

	growLock sync.Mutex // serializes file-extension on this inode

	diskMu sync.RWMutex // guards disk and readableLength
	disk   onDisk
	// readableLength is the length readers may observe; an extending
	// WriteAt only advances it after the new bytes it was given are
	// fully written into the grown sectors, and only as far as it
	// actually wrote, which is the whole trick to "readers never see
	// an extending write's unwritten zero tail".
	readableLength int64
}

// Inumber returns the stable identifier for this inode, equal to its
// on-disk sector number.
func (h *Handle) Inumber() sector.Number { return h.sector }

// IsDir reports whether this inode represents a directory.
func (h *Handle) IsDir() bool {
	h.diskMu.RLock()
	defer h.diskMu.RUnlock()
	return h.disk.isDir
}

// IsRemoved reports whether Remove has been called on this inode.
func (h *Handle) IsRemoved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

// Length returns the committed length, in bytes, of the inode's data.
func (h *Handle) Length() int64 {
	h.diskMu.RLock()
	defer h.diskMu.RUnlock()
	return int64(h.disk.length)
}

// DenyWrite raises the deny-write count, short-circuiting future
// writes; used while an executable image is loaded. Panics if the
// invariant 0 <= denyWriteCount <= openCount would be violated, which
// indicates a caller bug, not a recoverable runtime condition.
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.denyWriteCount++
	if h.denyWriteCount > h.openCount {
		panic("inode: deny_write_count exceeds open_count")
	}
}

// AllowWrite reverses one prior DenyWrite call.
func (h *Handle) AllowWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.denyWriteCount <= 0 {
		panic("inode: allow_write with no matching deny_write")
	}
	h.denyWriteCount--
}

// Registry is the process-wide open-inode table: it deduplicates by
// sector number so that at most one Handle exists per inumber, which
// is what lets removed/denyWriteCount/growLock be shared across every
// opener. A map keyed by sector number, guarded by one mutex, stands
// in for the source's intrusive doubly-linked list (spec.md §9: "any
// structure that deduplicates by sector works; a hash map is
// preferred").
type Registry struct {
	dev   Cache
	alloc Allocator

	mu    sync.Mutex
	open  map[sector.Number]*Handle
}

// NewRegistry creates an empty open-inode registry bound to the given
// cache and allocator.
func NewRegistry(c Cache, a Allocator) *Registry {
	return &Registry{dev: c, alloc: a, open: make(map[sector.Number]*Handle)}
}

// Create initializes a new inode occupying `at`, sized to hold
// `length` bytes (zero-filled), and writes it through the cache.
// Reports false if allocation fails partway through.
func (r *Registry) Create(at sector.Number, length int64, isDir bool) bool {
	if length < 0 {
		panic("inode: Create with negative length")
	}
	d := onDisk{magic: magic, isDir: isDir}
	if !grow(r.dev, r.alloc, &d, length) {
		return false
	}
	d.length = int32(length)
	buf := d.encode()
	if err := r.dev.Write(at, buf[:]); err != nil {
		return false
	}
	return true
}

// Open returns the canonical Handle for `at`, creating it (and
// reading the on-disk inode) if it is not already open; otherwise it
// increments the open count and returns the existing Handle.
func (r *Registry) Open(at sector.Number) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.open[at]; ok {
		h.mu.Lock()
		h.openCount++
		h.mu.Unlock()
		return h, nil
	}

	var buf [sector.Size]byte
	if err := r.dev.Read(at, buf[:]); err != nil {
		return nil, fmt.Errorf("inode: open sector %d: %w", at, err)
	}
	d := decodeOnDisk(buf)
	if d.magic != magic {
		return nil, fmt.Errorf("inode: sector %d is not a valid inode (bad magic)", at)
	}

	h := &Handle{
		sector:         at,
		openCount:      1,
		disk:           d,
		readableLength: int64(d.length),
	}
	r.open[at] = h
	return h, nil
}

// Reopen increments h's open count; it must already be open via this
// registry.
func (r *Registry) Reopen(h *Handle) {
	h.mu.Lock()
	h.openCount++
	h.mu.Unlock()
}

// Close decrements h's open count. When it reaches zero, h is removed
// from the registry; if h was marked removed, its inode sector and
// all file data are freed as well.
func (r *Registry) Close(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.mu.Lock()
	h.openCount--
	last := h.openCount == 0
	removed := h.removed
	h.mu.Unlock()

	if !last {
		return
	}
	delete(r.open, h.sector)

	if removed {
		h.diskMu.Lock()
		free(r.dev, r.alloc, &h.disk)
		h.diskMu.Unlock()
		r.alloc.Release(h.sector, 1)
	}
}

// Remove marks h to be deleted once its last opener closes it.
func (r *Registry) Remove(h *Handle) {
	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
}

// ReadAt reads up to len(buf) bytes from h starting at offset, returning
// the number of bytes actually read. Reads past readableLength are
// short, down to zero at or past readableLength — never an error.
func (h *Handle) ReadAt(c Cache, buf []byte, offset int64) int {
	size := len(buf)
	read := 0
	for size > 0 {
		h.diskMu.RLock()
		d := h.disk
		readable := h.readableLength
		h.diskMu.RUnlock()

		idx := byteToSector(&d, c, offset, readable)
		if idx == sector.None {
			break
		}
		sectorOfs := int(offset % sector.Size)
		sectorLeft := sector.Size - sectorOfs
		inodeLeft := readable - offset
		chunk := minInt64(int64(size), minInt64(int64(sectorLeft), inodeLeft))
		if chunk <= 0 {
			break
		}

		dst := buf[read : read+int(chunk)]
		var err error
		if sectorOfs == 0 && chunk == sector.Size {
			err = c.Read(idx, dst)
		} else {
			err = c.ReadPartial(idx, dst, sectorOfs, int(chunk))
		}
		if err != nil {
			break
		}

		size -= int(chunk)
		offset += chunk
		read += int(chunk)

		if next := byteToSector(&d, c, offset, readable); next != sector.None {
			c.ReadAhead(next)
		}
	}
	return read
}

// WriteAt writes len(buf) bytes into h at offset, extending the file
// via grow() if the write reaches past the current length. Returns
// the number of bytes actually written; a failed extension writes
// nothing and returns zero.
func (h *Handle) WriteAt(c Cache, a Allocator, buf []byte, offset int64) int {
	h.mu.Lock()
	denied := h.denyWriteCount > 0
	h.mu.Unlock()
	if denied {
		return 0
	}

	size := len(buf)
	if size == 0 {
		return 0
	}
	startOffset := offset

	h.diskMu.RLock()
	snapshot := h.disk
	h.diskMu.RUnlock()
	lastIdx := byteToSector(&snapshot, c, offset+int64(size)-1, int64(snapshot.length))

	grew := lastIdx == sector.None
	if grew {
		h.growLock.Lock()
		h.diskMu.Lock()
		ok := grow(c, a, &h.disk, offset+int64(size))
		if ok {
			h.disk.length = int32(offset + int64(size))
		}
		h.diskMu.Unlock()
		h.growLock.Unlock()
		if !ok {
			return 0
		}

		buf2 := h.disk.encode()
		if err := c.Write(h.sector, buf2[:]); err != nil {
			return 0
		}
	}

	written := 0
	for size > 0 {
		h.diskMu.RLock()
		d := h.disk
		h.diskMu.RUnlock()
		length := int64(d.length)
		idx := byteToSector(&d, c, offset, length)
		if idx == sector.None {
			break
		}

		sectorOfs := int(offset % sector.Size)
		sectorLeft := sector.Size - sectorOfs
		inodeLeft := length - offset
		chunk := minInt64(int64(size), minInt64(int64(sectorLeft), inodeLeft))
		if chunk <= 0 {
			break
		}

		src := buf[written : written+int(chunk)]
		var err error
		if sectorOfs == 0 && chunk == sector.Size {
			err = c.Write(idx, src)
		} else {
			err = c.WritePartial(idx, src, sectorOfs, int(chunk))
		}
		if err != nil {
			break
		}

		size -= int(chunk)
		offset += chunk
		written += int(chunk)
	}

	if grew {
		// The length readers may observe advances only now, once the
		// write loop above has actually populated the newly grown
		// sectors, and only as far as what this call actually wrote —
		// advancing it any earlier, or any further, would let a
		// concurrent reader observe the freshly zero-filled (not yet
		// written) tail the grow step allocated.
		h.diskMu.Lock()
		if newReadable := startOffset + int64(written); newReadable > h.readableLength {
			h.readableLength = newReadable
		}
		h.diskMu.Unlock()
	}
	return written
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
