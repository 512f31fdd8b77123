// Package sectordev implements the block-device facade the storage
// core's cache and inode layers treat as an external collaborator: a
// synchronous, fixed-size-sector read/write interface over a flat
// image file.
package sectordev

import (
	"fmt"
	"os"

	"github.com/sectorfs/sectorfs/sector"
)

// Device is a file-backed block device addressed by 32-bit sector
// numbers. All I/O is whole-sector; there is no partial-sector
// support at this layer (that is the buffer cache's job).
type Device struct {
	f *os.File
}

// Open opens (creating if necessary) the image file at path and
// returns a Device over it. The file is grown to holding nSectors
// sectors if it is smaller.
func Open(path string, nSectors uint32) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("sectordev: open %s: %w", path, err)
	}
	want := int64(nSectors) * sector.Size
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sectordev: stat %s: %w", path, err)
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("sectordev: truncate %s: %w", path, err)
		}
	}
	return &Device{f: f}, nil
}

// Size reports the device's capacity in sectors.
func (d *Device) Size() (uint32, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("sectordev: stat: %w", err)
	}
	return uint32(info.Size() / sector.Size), nil
}

// ReadSector reads exactly sector.Size bytes from sector n into buf.
func (d *Device) ReadSector(n sector.Number, buf []byte) error {
	if len(buf) != sector.Size {
		panic(fmt.Sprintf("sectordev: ReadSector buffer must be %d bytes, got %d", sector.Size, len(buf)))
	}
	if err := pread(d.f, buf, int64(n)*sector.Size); err != nil {
		return fmt.Errorf("sectordev: read sector %d: %w", n, err)
	}
	return nil
}

// WriteSector writes exactly sector.Size bytes from buf to sector n.
func (d *Device) WriteSector(n sector.Number, buf []byte) error {
	if len(buf) != sector.Size {
		panic(fmt.Sprintf("sectordev: WriteSector buffer must be %d bytes, got %d", sector.Size, len(buf)))
	}
	if err := pwrite(d.f, buf, int64(n)*sector.Size); err != nil {
		return fmt.Errorf("sectordev: write sector %d: %w", n, err)
	}
	return nil
}

// Sync forces any buffered writes out to the underlying file.
func (d *Device) Sync() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("sectordev: sync: %w", err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return d.f.Close()
}
