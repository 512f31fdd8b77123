package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	imagePath     string
	flushInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "sectorfsctl",
	Short: "Inspect and drive a sectorfs volume from the command line",
	Long: `sectorfsctl opens a sectorfs image file and exposes its flat
root directory (format, create, read, write, rm, stat, flush) without
needing to mount the volume into the OS.`,
	// PersistentPreRunE resolves the final flag values after viper's
	// env layer has had a chance to override them, so e.g.
	// SECTORFSCTL_IMAGE/SECTORFSCTL_FLUSH_INTERVAL take effect even
	// when the corresponding flag was left at its default.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		imagePath = viper.GetString("image")
		flushInterval = viper.GetDuration("flush-interval")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&imagePath, "image", "sectorfs.img", "path to the volume image file")
	rootCmd.PersistentFlags().DurationVar(&flushInterval, "flush-interval", 0, "buffer cache periodic flush interval (0 = default)")

	viper.SetEnvPrefix("SECTORFSCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))
	_ = viper.BindPFlag("flush-interval", rootCmd.PersistentFlags().Lookup("flush-interval"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
