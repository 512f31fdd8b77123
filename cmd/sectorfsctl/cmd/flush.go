package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force the buffer cache and free-map to write back immediately",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Mount(imagePath, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		return fs.Close()
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}
