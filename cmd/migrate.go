package main

import (
	"github.com/spf13/cobra"

	"github.com/carelens/edrisk/config"
	"github.com/carelens/edrisk/internal/store"
)

func migrateCMD() *cobra.Command {
	var cfgPath, dir, direction string
	var steps int
	var mig = &cobra.Command{
		Use:   "migrate",
		Short: "Apply turn-audit database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return store.Migrate(dir, cfg.Storage.Postgres.URL, direction, steps)
		},
	}
	mig.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	mig.Flags().StringVar(&dir, "dir", "file://migrations", "migration source directory")
	mig.Flags().StringVar(&direction, "direction", "up", "up or down")
	mig.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return mig
}
