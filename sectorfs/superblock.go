package sectorfs

import (
	"encoding/binary"

	"github.com/sectorfs/sectorfs/sector"
)

const superblockMagic uint32 = 0x53454653 // "SEFS"
const superblockVersion uint32 = 1
const superblockSector sector.Number = 0

// superblock describes the on-device layout: where the free-map
// bitmap lives, how many sectors the whole device spans (so the
// bitmap can be reloaded with the right bit count), and which sector
// holds the root directory's inode.
type superblock struct {
	magic         uint32
	version       uint32
	totalSectors  uint32
	freemapStart  sector.Number
	rootDirSector sector.Number
}

func (s superblock) encode() [sector.Size]byte {
	var buf [sector.Size]byte
	bo := binary.LittleEndian
	bo.PutUint32(buf[0:], s.magic)
	bo.PutUint32(buf[4:], s.version)
	bo.PutUint32(buf[8:], s.totalSectors)
	bo.PutUint32(buf[12:], s.freemapStart)
	bo.PutUint32(buf[16:], s.rootDirSector)
	return buf
}

func decodeSuperblock(buf [sector.Size]byte) superblock {
	bo := binary.LittleEndian
	return superblock{
		magic:         bo.Uint32(buf[0:]),
		version:       bo.Uint32(buf[4:]),
		totalSectors:  bo.Uint32(buf[8:]),
		freemapStart:  bo.Uint32(buf[12:]),
		rootDirSector: bo.Uint32(buf[16:]),
	}
}
