package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var createSize int64

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a zero-filled file in the volume's root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Mount(imagePath, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		defer fs.Close()
		return fs.Create(args[0], createSize)
	},
}

func init() {
	createCmd.Flags().Int64Var(&createSize, "size", 0, "initial file size in bytes, zero-filled")
	rootCmd.AddCommand(createCmd)
}
