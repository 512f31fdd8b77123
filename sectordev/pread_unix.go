// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux || darwin

package sectordev

import (
	"os"

	"golang.org/x/sys/unix"
)

// pread/pwrite use positioned syscalls directly rather than
// os.File.ReadAt/WriteAt so that a single *os.File can be shared by
// concurrent cache operations without any seek-then-read race; the
// teacher's own loopback bindings (nodefs/loopback_linux.go) reach for
// golang.org/x/sys/unix the same way for positioned, syscall-level
// file access.
func pread(f *os.File, buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pread(int(f.Fd()), buf, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return os.ErrClosed
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func pwrite(f *os.File, buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(int(f.Fd()), buf, off)
		if err != nil {
			return err
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}
