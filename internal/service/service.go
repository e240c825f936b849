// Package service orchestrates the periodic pipeline: aggregation,
// reputation judgement, trend detection, and alert evaluation, with the
// store as the sole coordination medium between tasks.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/aggregate"
	"price-consensus/internal/alerting"
	"price-consensus/internal/cache"
	"price-consensus/internal/fetcher"
	"price-consensus/internal/intake"
	"price-consensus/internal/reputation"
	"price-consensus/internal/storage"
	"price-consensus/internal/trend"
)

// Store is the combined persistence surface one consensus cycle needs.
type Store interface {
	aggregate.Store
	storage.AdvisoryLocker
}

// Options tune the cycle orchestration.
type Options struct {
	Assets       []string
	HistoryLimit int
	TrendOpts    trend.Options
}

// Service drives the per-cycle pipeline for every tracked asset.
type Service struct {
	store      Store
	aggregator *aggregate.Aggregator
	tracker    *reputation.Tracker
	engine     *alerting.Engine
	cache      *cache.Cache
	opts       Options
	logger     zerolog.Logger
}

// New constructs the cycle service. tracker, engine, and cache may be
// nil when the corresponding stage is disabled.
func New(store Store, aggregator *aggregate.Aggregator, tracker *reputation.Tracker, engine *alerting.Engine, priceCache *cache.Cache, opts Options, logger zerolog.Logger) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	return &Service{
		store:      store,
		aggregator: aggregator,
		tracker:    tracker,
		engine:     engine,
		cache:      priceCache,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// RunCycle executes one full consensus cycle: aggregate every asset,
// judge contributors, detect patterns, then evaluate alerts against the
// stable snapshots. A failure for one asset never blocks the others.
func (s *Service) RunCycle(ctx context.Context, cycleTS time.Time) error {
	snapshots := make(map[string]alerting.Snapshot, len(s.opts.Assets))

	for _, asset := range s.opts.Assets {
		snap, err := s.runAsset(ctx, asset, cycleTS)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error().Err(err).Str("asset", asset).Msg("asset cycle failed; previous value retained")
			continue
		}
		if snap != nil {
			snapshots[asset] = *snap
		}
	}

	if s.engine != nil && len(snapshots) > 0 {
		if err := s.engine.EvaluateCycle(ctx, cycleTS, snapshots); err != nil {
			s.logger.Error().Err(err).Msg("alert evaluation failed for cycle")
		}
	}

	return nil
}

// runAsset aggregates one asset under its advisory lock and returns the
// snapshot for alert evaluation, or nil when nothing was published.
func (s *Service) runAsset(ctx context.Context, asset string, cycleTS time.Time) (*alerting.Snapshot, error) {
	unlock, acquired, err := s.store.TryAdvisoryLock(ctx, storage.AssetLockKey(asset))
	if err != nil {
		return nil, fmt.Errorf("acquire asset lock: %w", err)
	}
	if !acquired {
		// Another worker holds this asset's cycle; skip, never queue.
		s.logger.Debug().Str("asset", asset).Msg("asset cycle already in flight elsewhere")
		return nil, nil
	}
	defer unlock()

	result, err := s.aggregator.RunAsset(ctx, asset, cycleTS)
	if err != nil {
		return nil, err
	}
	if result.Published.Price.Asset == "" {
		// Nothing published, nothing to evaluate.
		return nil, nil
	}
	published := result.Published.Price

	// Reputation runs strictly after this asset's publish, over the
	// full judgeable set: contributors and excluded submissions alike.
	if s.tracker != nil && !result.Published.Empty {
		s.tracker.JudgeCycle(ctx, result.Judged, published.Price)
	}

	if s.cache != nil {
		s.cache.SetLatest(ctx, published)
	}

	history, histErr := s.store.ListPricePoints(ctx, asset, s.opts.HistoryLimit)
	if histErr != nil {
		return nil, fmt.Errorf("load history: %w", histErr)
	}

	prices := make([]decimal.Decimal, len(history))
	for i, p := range history {
		prices[i] = p.Price
	}

	return &alerting.Snapshot{
		Current:  published,
		History:  history,
		Patterns: trend.Detect(prices, s.opts.TrendOpts),
	}, nil
}

// FetchRunner feeds api-kind quotes from external fetchers into intake.
type FetchRunner struct {
	fetchers []fetcher.Fetcher
	intake   *intake.Service
	logger   zerolog.Logger
}

// NewFetchRunner constructs the fetch loop body.
func NewFetchRunner(fetchers []fetcher.Fetcher, intakeSvc *intake.Service, logger zerolog.Logger) *FetchRunner {
	return &FetchRunner{
		fetchers: fetchers,
		intake:   intakeSvc,
		logger:   logger.With().Str("component", "fetch_runner").Logger(),
	}
}

// RunOnce polls every fetcher and submits the quotes it got. A failed
// source simply contributes no submission this interval.
func (r *FetchRunner) RunOnce(ctx context.Context, _ time.Time) error {
	for _, f := range r.fetchers {
		quotes, err := f.Fetch(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", f.Name()).Msg("fetch failed; no submission this interval")
			continue
		}
		for _, quote := range quotes {
			source := quote.Source
			if _, submitErr := r.intake.Submit(ctx, quote.Asset, quote.Value, storage.SourceAPI, &source); submitErr != nil {
				r.logger.Warn().Err(submitErr).Str("asset", quote.Asset).Str("source", source).Msg("quote rejected")
			}
		}
	}
	return nil
}
