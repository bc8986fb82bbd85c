package cli

import (
	"github.com/spf13/cobra"

	"breakout-radar/internal/app"
)

var simulateFailing int

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用静态数据跑一次流水线并触发失败率告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{Failing: simulateFailing})
		return err
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateFailing, "failing", -1, "评分失败的类目数量，负数表示全部")
}
