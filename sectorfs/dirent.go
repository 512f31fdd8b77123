package sectorfs

import (
	"encoding/binary"
	"errors"

	"github.com/sectorfs/sectorfs/sector"
)

// maxNameLen is the longest file name this flat facade accepts. This
// facade is deliberately minimal — one directory, no nested paths, no
// path parsing — since path parsing and directory traversal remain
// out of the storage core's scope; it exists only to give the core
// something to be exercised through end to end.
const maxNameLen = 27

// dirEntrySize is the fixed size of one directory record: a name, an
// in-use flag, and the child's inumber.
const dirEntrySize = maxNameLen + 1 + 4

var errNameTooLong = errors.New("sectorfs: name too long")

type dirEntry struct {
	name  string
	inUse bool
	inum  sector.Number
}

func encodeDirEntry(e dirEntry) ([dirEntrySize]byte, error) {
	var buf [dirEntrySize]byte
	if len(e.name) > maxNameLen {
		return buf, errNameTooLong
	}
	copy(buf[:maxNameLen], e.name)
	if e.inUse {
		buf[maxNameLen] = 1
	}
	binary.LittleEndian.PutUint32(buf[maxNameLen+1:], e.inum)
	return buf, nil
}

func decodeDirEntry(buf [dirEntrySize]byte) dirEntry {
	end := 0
	for end < maxNameLen && buf[end] != 0 {
		end++
	}
	return dirEntry{
		name:  string(buf[:end]),
		inUse: buf[maxNameLen] != 0,
		inum:  binary.LittleEndian.Uint32(buf[maxNameLen+1:]),
	}
}
