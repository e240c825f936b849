package cli

import (
	"github.com/spf13/cobra"

	"price-consensus/internal/app"
)

var (
	submitAsset  string
	submitValue  string
	submitKind   string
	submitSource string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record a single price submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Submit(cmd.Context(), app.SubmitOptions{
			Asset:    submitAsset,
			Value:    submitValue,
			Kind:     submitKind,
			SourceID: submitSource,
		})
	},
}

var (
	voteSubmission int64
	voteUser       string
	voteDown       bool
)

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Up- or down-vote a submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Vote(cmd.Context(), voteSubmission, voteUser, !voteDown)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitAsset, "asset", "", "Asset the price is for")
	submitCmd.Flags().StringVar(&submitValue, "value", "", "Observed price")
	submitCmd.Flags().StringVar(&submitKind, "kind", "user", "Source kind: user, merchant, or api")
	submitCmd.Flags().StringVar(&submitSource, "source", "", "Source identifier (optional for user submissions)")

	voteCmd.Flags().Int64Var(&voteSubmission, "submission", 0, "Submission id to vote on")
	voteCmd.Flags().StringVar(&voteUser, "user", "", "Voting user id")
	voteCmd.Flags().BoolVar(&voteDown, "down", false, "Cast a downvote instead of an upvote")
}
