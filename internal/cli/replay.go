package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-consensus/internal/app"
)

var (
	replayFrom string
	replayTo   string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Recompute consensus for historical cycles from stored submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		return getApp().Replay(cmd.Context(), app.ReplayOptions{From: from, To: to})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End timestamp (RFC3339, exclusive)")
	_ = replayCmd.MarkFlagRequired("from")
	_ = replayCmd.MarkFlagRequired("to")
}
