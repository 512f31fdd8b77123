// Command sectorfsctl is a small command-line driver for sectorfs
// volumes: format an image file, create/read/write/remove files in its
// flat root directory, and report per-file metadata.
package main

import (
	"fmt"
	"os"

	"github.com/sectorfs/sectorfs/cmd/sectorfsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
