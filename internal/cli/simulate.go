package cli

import (
	"github.com/spf13/cobra"

	"price-consensus/internal/app"
)

var (
	simulateAsset  string
	simulateValues []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed synthetic submissions through validation and run one consensus round",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Asset:  simulateAsset,
			Values: simulateValues,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "Asset to simulate submissions for")
	simulateCmd.Flags().StringSliceVar(&simulateValues, "value", nil, "Submission value (repeatable)")
}
