package cli

import (
	"github.com/spf13/cobra"

	"breakout-radar/internal/app"
)

var (
	productReviews bool
	productRefresh bool
)

var productCmd = &cobra.Command{
	Use:   "product <item-id>...",
	Short: "Show product details, or refresh them from the marketplace",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ProductOptions{
			ItemIDs: args,
			Reviews: productReviews,
			Refresh: productRefresh,
		}
		return getApp().Product(cmd.Context(), opts)
	},
}

func init() {
	productCmd.Flags().BoolVar(&productReviews, "reviews", false, "Include recent reviews")
	productCmd.Flags().BoolVar(&productRefresh, "refresh", false, "Refetch details in batches and store them")
}
