// Package sectorfs is the filesystem facade that ties the block
// device, free-map, buffer cache, and indexed inode together. It is
// deliberately thin: a single flat directory with no path parsing or
// nested directories, since directory traversal and path parsing are
// explicitly out of the storage core's scope — this package exists to
// exercise that core end to end, not to reimplement what the core
// treats as an external collaborator.
package sectorfs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sectorfs/sectorfs/cache"
	"github.com/sectorfs/sectorfs/freemap"
	"github.com/sectorfs/sectorfs/inode"
	"github.com/sectorfs/sectorfs/sector"
	"github.com/sectorfs/sectorfs/sectordev"
)

var (
	// ErrNotFound is returned by Open, Remove, and Stat when no file
	// with the given name exists.
	ErrNotFound = errors.New("sectorfs: not found")
	// ErrExists is returned by Create when a file with the given name
	// is already present.
	ErrExists = errors.New("sectorfs: already exists")
	// ErrAllocationFailed is returned by Create when the free-map or
	// inode growth cannot satisfy the request.
	ErrAllocationFailed = errors.New("sectorfs: allocation failed")
)

// Options configures Format and Mount.
type Options struct {
	// FlushInterval overrides the buffer cache's periodic write-back
	// interval. Zero uses the cache package's default.
	FlushInterval time.Duration
}

func (o Options) cacheOpts() []cache.Option {
	if o.FlushInterval <= 0 {
		return nil
	}
	return []cache.Option{cache.WithFlushInterval(o.FlushInterval)}
}

// FS is a mounted sectorfs volume.
type FS struct {
	dev   *sectordev.Device
	cache *cache.Cache
	alloc *freemap.Map
	reg   *inode.Registry

	mu   sync.Mutex // serializes directory mutation (Create/Remove)
	root *inode.Handle
}

// Info describes a file's metadata, as returned by Stat.
type Info struct {
	Name    string
	Size    int64
	IsDir   bool
	Inumber sector.Number
}

// Format lays out a fresh volume of totalSectors sectors in the image
// file at path and returns it mounted.
func Format(path string, totalSectors uint32, opts Options) (*FS, error) {
	dev, err := sectordev.Open(path, totalSectors)
	if err != nil {
		return nil, err
	}

	fmLen := freemap.SectorCount(totalSectors)
	fmStart := sector.Number(1)
	rootSector := fmStart + fmLen
	dataStart := rootSector + 1

	alloc, err := freemap.Create(dev, fmStart, totalSectors)
	if err != nil {
		dev.Close()
		return nil, err
	}
	for i := sector.Number(0); i < dataStart; i++ {
		if _, ok := alloc.Allocate(1); !ok {
			dev.Close()
			return nil, fmt.Errorf("sectorfs: format: device too small to hold its own metadata")
		}
	}

	c := cache.New(dev, opts.cacheOpts()...)
	reg := inode.NewRegistry(c, alloc)

	if !reg.Create(rootSector, 0, true) {
		c.Destroy()
		dev.Close()
		return nil, ErrAllocationFailed
	}
	root, err := reg.Open(rootSector)
	if err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}

	sb := superblock{
		magic:         superblockMagic,
		version:       superblockVersion,
		totalSectors:  totalSectors,
		freemapStart:  fmStart,
		rootDirSector: rootSector,
	}
	buf := sb.encode()
	if err := c.Write(superblockSector, buf[:]); err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}

	if err := alloc.Persist(); err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}
	if err := c.FlushAll(); err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}

	return &FS{dev: dev, cache: c, alloc: alloc, reg: reg, root: root}, nil
}

// Mount opens an existing volume previously created by Format.
func Mount(path string, opts Options) (*FS, error) {
	dev, err := sectordev.Open(path, 0)
	if err != nil {
		return nil, err
	}

	c := cache.New(dev, opts.cacheOpts()...)

	var buf [sector.Size]byte
	if err := c.Read(superblockSector, buf[:]); err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}
	sb := decodeSuperblock(buf)
	if sb.magic != superblockMagic {
		c.Destroy()
		dev.Close()
		return nil, fmt.Errorf("sectorfs: %s is not a sectorfs volume", path)
	}

	alloc, err := freemap.Load(dev, sb.freemapStart, sb.totalSectors)
	if err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}

	reg := inode.NewRegistry(c, alloc)
	root, err := reg.Open(sb.rootDirSector)
	if err != nil {
		c.Destroy()
		dev.Close()
		return nil, err
	}

	return &FS{dev: dev, cache: c, alloc: alloc, reg: reg, root: root}, nil
}

// Close flushes the free-map and buffer cache and releases the
// underlying device.
func (fs *FS) Close() error {
	fs.reg.Close(fs.root)
	allocErr := fs.alloc.Persist()
	cacheErr := fs.cache.Destroy()
	devErr := fs.dev.Close()
	if allocErr != nil {
		return allocErr
	}
	if cacheErr != nil {
		return cacheErr
	}
	return devErr
}

// forEachEntry scans the root directory's entries, calling fn for
// each one until fn returns false or entries are exhausted.
func (fs *FS) forEachEntry(fn func(offset int64, e dirEntry) bool) {
	var buf [dirEntrySize]byte
	length := fs.root.Length()
	for off := int64(0); off+dirEntrySize <= length; off += dirEntrySize {
		n := fs.root.ReadAt(fs.cache, buf[:], off)
		if n != dirEntrySize {
			break
		}
		if !fn(off, decodeDirEntry(buf)) {
			return
		}
	}
}

func (fs *FS) lookup(name string) (dirEntry, int64, bool) {
	var found dirEntry
	var foundOff int64
	ok := false
	fs.forEachEntry(func(off int64, e dirEntry) bool {
		if e.inUse && e.name == name {
			found, foundOff, ok = e, off, true
			return false
		}
		return true
	})
	return found, foundOff, ok
}

// Create creates a new regular file named name, sized to
// initialSize zero bytes, and adds it to the root directory.
func (fs *FS) Create(name string, initialSize int64) error {
	if len(name) > maxNameLen {
		return errNameTooLong
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, _, ok := fs.lookup(name); ok {
		return ErrExists
	}

	inumSector, ok := fs.alloc.Allocate(1)
	if !ok {
		return ErrAllocationFailed
	}
	if !fs.reg.Create(inumSector, initialSize, false) {
		fs.alloc.Release(inumSector, 1)
		return ErrAllocationFailed
	}

	entry := dirEntry{name: name, inUse: true, inum: inumSector}
	buf, err := encodeDirEntry(entry)
	if err != nil {
		fs.alloc.Release(inumSector, 1)
		return err
	}

	// Reuse a free slot if one exists (left behind by a prior Remove),
	// otherwise append.
	var reusedOffset int64 = -1
	fs.forEachEntry(func(off int64, e dirEntry) bool {
		if !e.inUse {
			reusedOffset = off
			return false
		}
		return true
	})
	offset := reusedOffset
	if offset < 0 {
		offset = fs.root.Length()
	}

	if n := fs.root.WriteAt(fs.cache, fs.alloc, buf[:], offset); n != dirEntrySize {
		fs.alloc.Release(inumSector, 1)
		return fmt.Errorf("sectorfs: failed to record directory entry for %q", name)
	}
	return nil
}

// Open returns the inode handle for name.
func (fs *FS) Open(name string) (*inode.Handle, error) {
	fs.mu.Lock()
	e, _, ok := fs.lookup(name)
	fs.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return fs.reg.Open(e.inum)
}

// Remove deletes name from the directory. Any existing openers may
// continue reading and writing through their handle; the inode's
// blocks are only released once the last opener closes it.
func (fs *FS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, off, ok := fs.lookup(name)
	if !ok {
		return ErrNotFound
	}

	h, err := fs.reg.Open(e.inum)
	if err != nil {
		return err
	}
	fs.reg.Remove(h)
	fs.reg.Close(h)

	entry := dirEntry{name: "", inUse: false}
	buf, _ := encodeDirEntry(entry)
	fs.root.WriteAt(fs.cache, fs.alloc, buf[:], off)
	return nil
}

// Stat returns metadata about name without the caller opening it; it
// opens and closes a transient handle internally.
func (fs *FS) Stat(name string) (Info, error) {
	fs.mu.Lock()
	e, _, ok := fs.lookup(name)
	fs.mu.Unlock()
	if !ok {
		return Info{}, ErrNotFound
	}

	h, err := fs.reg.Open(e.inum)
	if err != nil {
		return Info{}, err
	}
	defer fs.reg.Close(h)

	return Info{Name: name, Size: h.Length(), IsDir: h.IsDir(), Inumber: h.Inumber()}, nil
}

// ReadAt and WriteAt are convenience wrappers so callers holding a
// *inode.Handle from Open don't need to import the inode and cache
// packages themselves to drive reads and writes.
func (fs *FS) ReadAt(h *inode.Handle, buf []byte, offset int64) int {
	return h.ReadAt(fs.cache, buf, offset)
}

func (fs *FS) WriteAt(h *inode.Handle, buf []byte, offset int64) int {
	return h.WriteAt(fs.cache, fs.alloc, buf, offset)
}

// CloseHandle closes a handle obtained from Open.
func (fs *FS) CloseHandle(h *inode.Handle) {
	fs.reg.Close(h)
}
