package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"

	"price-consensus/internal/cache"
	"price-consensus/internal/storage"
)

// Show prints the current consensus for one or all tracked assets, or a
// source's track record when --source is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.SourceID != "" {
		return a.showSource(ctx, store, opts.SourceID)
	}

	if opts.Asset != "" && opts.History > 0 {
		return a.showHistory(ctx, store, opts.Asset, opts.History)
	}

	assets := a.Config.Assets
	if opts.Asset != "" {
		assets = []string{opts.Asset}
	}

	priceCache := a.openCache(ctx)
	defer priceCache.Close()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Asset\tPrice\tTrend\tHigh24h\tLow24h\tSpread\tContributors\tTrusted\tConfidence\tUpdated (UTC)")

	shown := 0
	for _, asset := range assets {
		agg, err := a.currentPrice(ctx, store, priceCache, asset)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return err
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			agg.Asset,
			agg.Price.StringFixed(4),
			agg.Trend,
			agg.High24h.StringFixed(4),
			agg.Low24h.StringFixed(4),
			agg.Spread.StringFixed(4),
			agg.Contributors,
			agg.Trusted,
			agg.Confidence,
			agg.UpdatedAt.UTC().Format(time.RFC3339),
		)
		shown++
	}

	if shown == 0 {
		fmt.Fprintln(os.Stdout, "no consensus prices published yet")
		return nil
	}
	return writer.Flush()
}

// currentPrice prefers the cache and falls back to the live row.
func (a *App) currentPrice(ctx context.Context, store *storage.Store, priceCache *cache.Cache, asset string) (storage.AggregatedPrice, error) {
	if agg, err := priceCache.GetLatest(ctx, asset); err == nil {
		return agg, nil
	}
	return store.GetAggregatedPrice(ctx, asset)
}

func (a *App) showHistory(ctx context.Context, store *storage.Store, asset string, limit int) error {
	points, err := store.ListPricePoints(ctx, asset, limit)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintf(os.Stdout, "no history for %s\n", asset)
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Cycle (UTC)\tPrice")
	for _, point := range points {
		fmt.Fprintf(writer, "%s\t%s\n", point.CycleTS.UTC().Format(time.RFC3339), point.Price.StringFixed(4))
	}
	return writer.Flush()
}

func (a *App) showSource(ctx context.Context, store *storage.Store, sourceID string) error {
	stats, err := store.GetMerchantStats(ctx, sourceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fmt.Fprintf(os.Stdout, "source %s not found\n", sourceID)
			return nil
		}
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Source\t%s\n", stats.Source.ID)
	fmt.Fprintf(writer, "Kind\t%s\n", stats.Source.Kind)
	fmt.Fprintf(writer, "Score\t%s\n", stats.Source.Score.StringFixed(2))
	fmt.Fprintf(writer, "Judged\t%d\n", stats.Source.Total)
	fmt.Fprintf(writer, "Accurate\t%d\n", stats.Source.Accurate)
	fmt.Fprintf(writer, "Trusted\t%t\n", stats.Source.Trusted)
	fmt.Fprintf(writer, "Flagged\t%t\n", stats.Source.Flagged)
	fmt.Fprintf(writer, "Submissions\t%d\n", stats.Submissions)
	fmt.Fprintf(writer, "Suspicious\t%d\n", stats.Suspicious)
	fmt.Fprintf(writer, "First seen\t%s\n", stats.Source.FirstSeenAt.UTC().Format(time.RFC3339))
	return writer.Flush()
}
