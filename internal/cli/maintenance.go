package cli

import (
	"github.com/spf13/cobra"
)

var (
	purgeDays int
	runsLimit int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete ranked entries older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Purge(cmd.Context(), purgeDays)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the category catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Categories()
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Runs(cmd.Context(), runsLimit)
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "Retention in days (defaults to config)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to display")
}
