package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var rmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a file from the volume's root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Mount(imagePath, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		defer fs.Close()
		return fs.Remove(args[0])
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
