package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

// SubmitOptions carry one manual price submission.
type SubmitOptions struct {
	Asset    string
	Value    string
	Kind     string
	SourceID string
}

// Submit validates and records a single price submission.
func (a *App) Submit(ctx context.Context, opts SubmitOptions) error {
	if opts.Asset == "" || opts.Value == "" {
		return errors.New("--asset and --value are required")
	}

	value, err := decimal.NewFromString(opts.Value)
	if err != nil {
		return fmt.Errorf("parse value %q: %w", opts.Value, err)
	}

	kind := storage.SourceKind(opts.Kind)
	switch kind {
	case storage.SourceUser, storage.SourceMerchant, storage.SourceAPI:
	default:
		return fmt.Errorf("unknown source kind %q", opts.Kind)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var sourceID *string
	if opts.SourceID != "" {
		sourceID = &opts.SourceID
	}

	receipt, err := a.newIntake(store).Submit(ctx, opts.Asset, value, kind, sourceID)
	if err != nil {
		return err
	}

	if receipt.IsSuspicious {
		fmt.Fprintf(os.Stdout, "submission %d recorded as suspicious (deviation %s%%)\n",
			receipt.SubmissionID, receipt.DeviationPct.StringFixed(2))
		return nil
	}
	fmt.Fprintf(os.Stdout, "submission %d accepted (deviation %s%%)\n",
		receipt.SubmissionID, receipt.DeviationPct.StringFixed(2))
	return nil
}

// Vote applies one up/down vote to a submission.
func (a *App) Vote(ctx context.Context, submissionID int64, userID string, upvote bool) error {
	if submissionID <= 0 || userID == "" {
		return errors.New("--submission and --user are required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := a.newIntake(store).CastVote(ctx, submissionID, userID, upvote); err != nil {
		if errors.Is(err, storage.ErrDuplicateVote) {
			fmt.Fprintf(os.Stdout, "user %s already voted on submission %d\n", userID, submissionID)
			return nil
		}
		return err
	}
	fmt.Fprintln(os.Stdout, "vote recorded")
	return nil
}
