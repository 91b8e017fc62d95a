package cmd

import (
	"featureforge/config"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		// ConnectDB migrates on its own when auto-migrate is on
		config.AppConfig.AutoMigrate = false
		if err := config.ConnectDB(); err != nil {
			return err
		}
		return config.MigrateDB(config.DB)
	},
}
