package cli

import (
	"github.com/spf13/cobra"

	"price-consensus/internal/app"
)

var (
	showAsset   string
	showHistory int
	showSource  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current consensus prices, history, or a source's track record",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{
			Asset:    showAsset,
			History:  showHistory,
			SourceID: showSource,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Limit output to one asset")
	showCmd.Flags().IntVar(&showHistory, "history", 0, "Show the last N price points instead of the live row (requires --asset)")
	showCmd.Flags().StringVar(&showSource, "source", "", "Show stats for one source instead of prices")
}
