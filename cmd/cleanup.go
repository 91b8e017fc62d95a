package cmd

import (
	"fmt"
	"time"

	"featureforge/config"
	"featureforge/services"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-notifications",
	Short: "Delete notifications older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = config.AppConfig.NotificationRetentionDays
		}

		config.AppConfig.AutoMigrate = false
		if err := config.ConnectDB(); err != nil {
			return err
		}

		notifications := services.NewNotificationService(config.DB, nil)
		deleted, err := notifications.CleanupOlderThan(cmd.Context(), time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d notifications older than %d days\n", deleted, days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("days", 0, "retention period in days (defaults to NOTIFICATION_RETENTION_DAYS)")
}
