package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/afectaciones-engine/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations and print their status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.DefaultEnvFiles...)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// opening applies pending migrations
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			m, ok := store.(migrator)
			if !ok {
				return fmt.Errorf("driver %q has no migrations", cfg.Database.Driver)
			}
			status, err := m.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range status {
				applied := "-"
				if !s.AppliedAt.IsZero() {
					applied = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%05d  %-8s  %-19s  %s\n", s.Source.Version, s.State, applied, s.Source.Path)
			}
			return nil
		},
	}
}
