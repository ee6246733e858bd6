package main

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/arfor-backend/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		database, err := app.OpenDatabase(cfg.Database, log)
		if err != nil {
			return err
		}
		log.Info("Schema up to date", "driver", cfg.Database.Driver)
		return database.Close()
	},
}
