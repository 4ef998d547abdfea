package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/persistence/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the storage schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx := cmd.Context()
		db, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(ctx, db, cfg.Retention); err != nil {
			return err
		}
		log.Info().Msg("Schema up to date")
		return nil
	},
}

func init() { rootCmd.AddCommand(migrateCmd) }
