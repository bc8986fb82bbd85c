package cli

import (
	"github.com/spf13/cobra"

	"breakout-radar/internal/app"
)

var historyDays int

var historyCmd = &cobra.Command{
	Use:   "history <product-id>",
	Short: "Display a product's ranking history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), app.HistoryOptions{ProductID: args[0], Days: historyDays})
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyDays, "days", 0, "Days of history including today (defaults to config, capped at the configured maximum)")
}
