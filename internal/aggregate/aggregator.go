package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/metrics"
	"price-consensus/internal/storage"
)

// Store is the persistence surface one aggregation cycle needs.
type Store interface {
	storage.SubmissionStore
	storage.PriceStore
}

// Options tune the aggregation cycle.
type Options struct {
	Window          time.Duration
	RangeWindow     time.Duration
	Weights         Weights
	MinContributors int
	HistoryBound    int
	TrendEpsilonPct decimal.Decimal
}

// Aggregator runs the periodic consensus cycle, one asset at a time.
type Aggregator struct {
	store  Store
	opts   Options
	logger zerolog.Logger
}

// CycleResult carries the published state plus the two submission
// sets of the cycle: Window is what the consensus was computed from,
// Judged is the full attributed set including excluded submissions,
// which the reputation tracker counts against their sources.
type CycleResult struct {
	Published AggregatedOutcome
	Window    []storage.ContributingSubmission
	Judged    []storage.ContributingSubmission
}

// AggregatedOutcome is the published state plus the empty-set marker.
type AggregatedOutcome struct {
	Price storage.AggregatedPrice
	Empty bool
}

// New constructs an aggregator.
func New(store Store, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.RangeWindow <= 0 {
		opts.RangeWindow = 24 * time.Hour
	}
	return &Aggregator{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
}

// RunAsset executes one aggregation cycle for one asset: select the
// window, weigh it, publish atomically, append history. A failure here
// must not block aggregation of other assets; the caller isolates it.
func (a *Aggregator) RunAsset(ctx context.Context, asset string, cycleTS time.Time) (CycleResult, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAggregation(asset, time.Since(start))
	}()

	windowStart := cycleTS.Add(-a.opts.Window)
	window, err := a.store.AggregationWindow(ctx, asset, windowStart, cycleTS)
	if err != nil {
		return CycleResult{}, fmt.Errorf("load aggregation window: %w", err)
	}

	consensus := Compute(window, a.opts.Weights, a.opts.MinContributors)

	previous, prevErr := a.store.GetAggregatedPrice(ctx, asset)
	havePrevious := prevErr == nil
	if prevErr != nil && !errors.Is(prevErr, pgx.ErrNoRows) {
		return CycleResult{}, fmt.Errorf("load previous price: %w", prevErr)
	}

	if consensus.Empty {
		if !havePrevious {
			// Nothing to retain and nothing to publish yet.
			a.logger.Debug().Str("asset", asset).Msg("no submissions and no prior price; skipping cycle")
			return CycleResult{Published: AggregatedOutcome{Empty: true}}, nil
		}
		retained := previous
		retained.Confidence = storage.ConfidenceLow
		retained.Contributors = 0
		retained.Trusted = 0
		retained.UpdatedAt = cycleTS
		if err := a.publish(ctx, retained, cycleTS); err != nil {
			return CycleResult{}, err
		}
		a.logger.Info().Str("asset", asset).Msg("empty window; previous price retained at low confidence")
		return CycleResult{Published: AggregatedOutcome{Price: retained, Empty: true}}, nil
	}

	high, low, rangeErr := a.store.Range24h(ctx, asset, cycleTS.Add(-a.opts.RangeWindow), cycleTS)
	if rangeErr != nil {
		return CycleResult{}, fmt.Errorf("load 24h range: %w", rangeErr)
	}

	// The judgeable set is wider than the weighting set: suspicious
	// submissions were excluded from the consensus but still count
	// against their source's accuracy ratio.
	judged, judgedErr := a.store.JudgementWindow(ctx, asset, windowStart, cycleTS)
	if judgedErr != nil {
		return CycleResult{}, fmt.Errorf("load judgement window: %w", judgedErr)
	}

	trend := storage.TrendStable
	if havePrevious {
		trend = TrendLabel(consensus.Price, previous.Price, a.opts.TrendEpsilonPct)
	}

	agg := storage.AggregatedPrice{
		Asset:        asset,
		Price:        consensus.Price,
		Trend:        trend,
		High24h:      high,
		Low24h:       low,
		Spread:       consensus.Spread,
		Contributors: consensus.Contributors,
		Trusted:      consensus.Trusted,
		Confidence:   consensus.Confidence,
		UpdatedAt:    cycleTS,
	}

	if err := a.publish(ctx, agg, cycleTS); err != nil {
		return CycleResult{}, err
	}

	a.logger.Info().
		Str("asset", asset).
		Str("price", agg.Price.String()).
		Str("confidence", string(agg.Confidence)).
		Int("contributors", agg.Contributors).
		Int("trusted", agg.Trusted).
		Msg("consensus published")

	return CycleResult{Published: AggregatedOutcome{Price: agg}, Window: window, Judged: judged}, nil
}

func (a *Aggregator) publish(ctx context.Context, agg storage.AggregatedPrice, cycleTS time.Time) error {
	point := storage.PricePoint{Asset: agg.Asset, Price: agg.Price, CycleTS: cycleTS}
	if err := a.store.PublishAggregatedPrice(ctx, agg, point, a.opts.HistoryBound); err != nil {
		return fmt.Errorf("publish aggregated price: %w", err)
	}
	return nil
}
