package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sectorfs/sectorfs/sectorfs"
)

var statCmd = &cobra.Command{
	Use:   "stat NAME",
	Short: "Print metadata for a file in the volume's root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := sectorfs.Mount(imagePath, sectorfs.Options{FlushInterval: flushInterval})
		if err != nil {
			return err
		}
		defer fs.Close()

		info, err := fs.Stat(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("name:    %s\n", info.Name)
		fmt.Printf("size:    %d\n", info.Size)
		fmt.Printf("isDir:   %t\n", info.IsDir)
		fmt.Printf("inumber: %d\n", info.Inumber)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
