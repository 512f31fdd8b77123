//go:build !linux && !darwin

package sectordev

import "os"

func pread(f *os.File, buf []byte, off int64) error {
	_, err := f.ReadAt(buf, off)
	return err
}

func pwrite(f *os.File, buf []byte, off int64) error {
	_, err := f.WriteAt(buf, off)
	return err
}
