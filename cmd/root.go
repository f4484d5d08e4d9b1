package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "catchscan",
	Short: "Catchment coverage scanner",
	Long:  "Tracks a surveyor walking a stormwater catchment, fuses GPS and inertial streams into a smoothed position, paints coverage voxels and builds an elevation grid.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
