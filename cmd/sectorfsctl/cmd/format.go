package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var formatSectors uint32

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Lay out a fresh sectorfs volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Format(imagePath, formatSectors, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		return fs.Close()
	},
}

func init() {
	formatCmd.Flags().Uint32Var(&formatSectors, "sectors", 4096, "total number of sectors the volume spans")
	rootCmd.AddCommand(formatCmd)
}
