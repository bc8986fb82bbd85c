package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"breakout-radar/internal/app"
)

var (
	showCategory string
	showGroup    string
	showDate     string
	showLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the Top-N ranking of a category or group",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showCategory == "" && showGroup == "" {
			return fmt.Errorf("--category or --group must be provided")
		}
		date, err := parseDay("date", showDate)
		if err != nil {
			return err
		}

		opts := app.ShowOptions{
			CategoryID: showCategory,
			GroupID:    showGroup,
			Date:       date,
			Limit:      showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showCategory, "category", "", "Category id")
	showCmd.Flags().StringVar(&showGroup, "group", "", "Category group id")
	showCmd.Flags().StringVar(&showDate, "date", "", "Ranking day, YYYY-MM-DD (defaults to today)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of entries to display")
}
