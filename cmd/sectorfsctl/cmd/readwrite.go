package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var ioOffset int64

var readCmd = &cobra.Command{
	Use:   "read NAME",
	Short: "Read a file's full contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Mount(imagePath, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		defer fs.Close()

		h, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer fs.CloseHandle(h)

		buf := make([]byte, 4096)
		offset := ioOffset
		for {
			n := fs.ReadAt(h, buf, offset)
			if n == 0 {
				return nil
			}
			if _, err := os.Stdout.Write(buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
		}
	},
}

var writeCmd = &cobra.Command{
	Use:   "write NAME",
	Short: "Write stdin's contents into a file at an offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Mount(imagePath, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		defer fs.Close()

		h, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer fs.CloseHandle(h)

		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		offset := ioOffset
		written := 0
		for written < len(data) {
			n := fs.WriteAt(h, data[written:], offset)
			if n == 0 {
				return fmt.Errorf("sectorfsctl: short write at offset %d", offset)
			}
			offset += int64(n)
			written += n
		}
		return nil
	},
}

func init() {
	readCmd.Flags().Int64Var(&ioOffset, "offset", 0, "byte offset to start at")
	writeCmd.Flags().Int64Var(&ioOffset, "offset", 0, "byte offset to start at")
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
}
