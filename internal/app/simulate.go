package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

// SimulateOptions drive a synthetic consensus round.
type SimulateOptions struct {
	Asset  string
	Values []string
}

// Simulate feeds a batch of synthetic submissions through the intake
// path and immediately runs one aggregation round, so operators can
// observe validation and consensus behaviour without waiting a cycle.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset is required")
	}
	if len(opts.Values) == 0 {
		return errors.New("at least one --value is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	intakeSvc := a.newIntake(store)
	for i, raw := range opts.Values {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse value %q: %w", raw, err)
		}
		sourceID := fmt.Sprintf("sim-%d", i+1)
		receipt, err := intakeSvc.Submit(ctx, opts.Asset, value, storage.SourceUser, &sourceID)
		if err != nil {
			return fmt.Errorf("submit simulated value %s: %w", raw, err)
		}
		state := "accepted"
		if receipt.IsSuspicious {
			state = "suspicious"
		}
		fmt.Fprintf(os.Stdout, "submission %d (%s): %s\n", receipt.SubmissionID, raw, state)
	}

	cycleTS := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	result, err := a.newAggregator(store).RunAsset(ctx, opts.Asset, cycleTS)
	if err != nil {
		return err
	}
	if result.Published.Empty && result.Published.Price.Asset == "" {
		fmt.Fprintln(os.Stdout, "no consensus published (empty window, no prior price)")
		return nil
	}

	published := result.Published.Price
	fmt.Fprintf(os.Stdout, "consensus: %s  confidence=%s  contributors=%d  trusted=%d  spread=%s\n",
		published.Price.StringFixed(4),
		published.Confidence,
		published.Contributors,
		published.Trusted,
		published.Spread.StringFixed(4),
	)
	return nil
}
