package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-consensus/internal/app"
)

var (
	reportAsset string
	reportDay   string
	reportSend  bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the daily summary for an asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if reportDay != "" {
			parsed, err := time.Parse("2006-01-02", reportDay)
			if err != nil {
				return fmt.Errorf("invalid --day value: %w", err)
			}
			day = parsed
		}

		return getApp().Report(cmd.Context(), app.ReportOptions{
			Asset: reportAsset,
			Day:   day,
			Send:  reportSend,
		})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportAsset, "asset", "", "Asset to summarise")
	reportCmd.Flags().StringVar(&reportDay, "day", "", "Day to summarise (YYYY-MM-DD, defaults to yesterday)")
	reportCmd.Flags().BoolVar(&reportSend, "send", false, "Deliver the report through the configured notifier")
}
