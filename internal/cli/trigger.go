package cli

import (
	"github.com/spf13/cobra"

	"breakout-radar/internal/app"
)

var (
	triggerCategory string
	triggerFrom     string
	triggerTo       string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run the ranking pipeline now for one category or all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDay("from", triggerFrom)
		if err != nil {
			return err
		}
		to, err := parseDay("to", triggerTo)
		if err != nil {
			return err
		}

		opts := app.TriggerOptions{
			CategoryID: triggerCategory,
			From:       from,
			To:         to,
		}
		return getApp().Trigger(cmd.Context(), opts)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerCategory, "category", "", "Category id (defaults to every category)")
	triggerCmd.Flags().StringVar(&triggerFrom, "from", "", "First ranking day, YYYY-MM-DD (defaults to today)")
	triggerCmd.Flags().StringVar(&triggerTo, "to", "", "Last ranking day, YYYY-MM-DD, inclusive (defaults to --from)")
}
