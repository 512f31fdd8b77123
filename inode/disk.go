package inode

import (
	"encoding/binary"

	"github.com/sectorfs/sectorfs/sector"
)

// magic identifies a valid on-disk inode sector ("INOD" packed into a
// 32-bit word), matching the fixed constant of the original design
// bit-for-bit so existing filesystem images stay readable.
const magic uint32 = 0x494E4F44

// numDirect is the number of direct block pointers an on-disk inode
// carries.
const numDirect = 123

// perIndirect is sector.PerIndirectBlock, repeated locally for
// readability at the call sites that size fixed arrays.
const perIndirect = sector.PerIndirectBlock

// maxSectors is the number of logical sectors an inode can address:
// 123 direct + 128 single-indirect + 128*128 double-indirect.
const maxSectors = numDirect + perIndirect + perIndirect*perIndirect

// onDisk mirrors the fixed, bit-exact on-disk inode layout:
// length(4) | magic(4) | direct[123](492) | single_indirect(4) |
// double_indirect(4) | is_dir(1) | padding, for exactly sector.Size
// bytes total. It is encoded/decoded with encoding/binary rather than
// an unsafe cast so the layout is portable and explicit — the same
// fixed-header-plus-magic convention the pack's own binary cache
// format (cache_binary.go) uses for its on-disk records.
type onDisk struct {
	length          int32
	magic           uint32
	direct          [numDirect]sector.Number
	singleIndirect  sector.Number
	doubleIndirect  sector.Number
	isDir           bool
}

// encodedSize is the wire size of onDisk's meaningful fields; the
// remainder of the sector is zero padding.
const encodedSize = 4 + 4 + numDirect*4 + 4 + 4 + 1

func init() {
	if encodedSize > sector.Size {
		panic("inode: on-disk inode layout does not fit in one sector")
	}
}

func (d *onDisk) encode() [sector.Size]byte {
	var buf [sector.Size]byte
	bo := binary.LittleEndian
	off := 0
	bo.PutUint32(buf[off:], uint32(d.length))
	off += 4
	bo.PutUint32(buf[off:], d.magic)
	off += 4
	for _, s := range d.direct {
		bo.PutUint32(buf[off:], s)
		off += 4
	}
	bo.PutUint32(buf[off:], d.singleIndirect)
	off += 4
	bo.PutUint32(buf[off:], d.doubleIndirect)
	off += 4
	if d.isDir {
		buf[off] = 1
	}
	return buf
}

func decodeOnDisk(buf [sector.Size]byte) onDisk {
	var d onDisk
	bo := binary.LittleEndian
	off := 0
	d.length = int32(bo.Uint32(buf[off:]))
	off += 4
	d.magic = bo.Uint32(buf[off:])
	off += 4
	for i := range d.direct {
		d.direct[i] = bo.Uint32(buf[off:])
		off += 4
	}
	d.singleIndirect = bo.Uint32(buf[off:])
	off += 4
	d.doubleIndirect = bo.Uint32(buf[off:])
	off += 4
	d.isDir = buf[off] != 0
	return d
}

// indirectBlock is a sector-sized array of sector numbers, used
// identically at single- and double-indirect level.
type indirectBlock [perIndirect]sector.Number

func (b *indirectBlock) encode() [sector.Size]byte {
	var buf [sector.Size]byte
	bo := binary.LittleEndian
	for i, s := range b {
		bo.PutUint32(buf[i*4:], s)
	}
	return buf
}

func decodeIndirectBlock(buf [sector.Size]byte) indirectBlock {
	var b indirectBlock
	bo := binary.LittleEndian
	for i := range b {
		b[i] = bo.Uint32(buf[i*4:])
	}
	return b
}

func bytesToSectors(size int64) int64 {
	return (size + sector.Size - 1) / sector.Size
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
