package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"price-consensus/internal/report"
)

// Report builds the daily summary for one asset and optionally pushes
// it through the configured notifier.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	if opts.Asset == "" {
		return errors.New("--asset is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	generator := report.New(store, a.Logger)
	daily, err := generator.Generate(ctx, opts.Asset, opts.Day)
	if err != nil {
		if errors.Is(err, report.ErrNoData) {
			fmt.Fprintf(os.Stdout, "no price points for %s on %s\n", opts.Asset, opts.Day.Format("2006-01-02"))
			return nil
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "%s %s  open=%s close=%s high=%s low=%s trend=%s volatility=%s%%\n",
		daily.Asset,
		daily.Date.Format("2006-01-02"),
		daily.Open.StringFixed(4),
		daily.Close.StringFixed(4),
		daily.High.StringFixed(4),
		daily.Low.StringFixed(4),
		daily.Trend,
		daily.Volatility.StringFixed(2),
	)

	if opts.Send {
		notifier := a.newNotifier()
		if notifier == nil {
			return errors.New("no notification channel configured")
		}
		if err := notifier.NotifyReport(ctx, daily); err != nil {
			return fmt.Errorf("deliver report: %w", err)
		}
	}
	return nil
}
