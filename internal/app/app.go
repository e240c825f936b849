// Package app aggregates configuration and shared dependencies for the
// CLI commands.
package app

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/aggregate"
	"price-consensus/internal/alerting"
	"price-consensus/internal/cache"
	"price-consensus/internal/config"
	"price-consensus/internal/fetcher"
	"price-consensus/internal/intake"
	"price-consensus/internal/metrics"
	"price-consensus/internal/reputation"
	"price-consensus/internal/scheduler"
	"price-consensus/internal/service"
	"price-consensus/internal/storage"
	"price-consensus/internal/trend"
	"price-consensus/internal/validator"
)

// App is the application handle shared by all commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) *cache.Cache {
	if a.Config.Redis.Addr == "" {
		return nil
	}
	c, err := cache.New(ctx, a.Config.Redis.Addr, a.Config.Redis.DB, a.Config.Redis.TTL, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; latest-price cache disabled")
		return nil
	}
	return c
}

func (a *App) newValidator() *validator.Validator {
	return validator.New(a.Config.Validation.SuspicionPct, a.Config.Assets)
}

func (a *App) newIntake(store *storage.Store) *intake.Service {
	return intake.New(store, a.newValidator(), a.Config.Validation.RecentWindow, a.Logger)
}

func (a *App) trendOptions() trend.Options {
	return trend.Options{
		RunLength:        a.Config.Trend.RunLength,
		MovePct:          a.Config.Trend.MovePct,
		VolatilityPoints: a.Config.Trend.VolatilityPoints,
		VolatilityPct:    a.Config.Trend.VolatilityPct,
		ReversalRun:      a.Config.Trend.ReversalRun,
	}
}

func (a *App) newAggregator(store *storage.Store) *aggregate.Aggregator {
	return aggregate.New(store, aggregate.Options{
		Window: a.Config.Aggregation.Window,
		Weights: aggregate.Weights{
			Trusted:   decimal.NewFromFloat(a.Config.Aggregation.TrustedWeight),
			Upvoted:   decimal.NewFromFloat(a.Config.Aggregation.UpvoteWeight),
			UpvoteMin: a.Config.Aggregation.UpvoteMin,
		},
		MinContributors: a.Config.Aggregation.MinContributors,
		HistoryBound:    a.Config.Aggregation.HistoryBound,
		TrendEpsilonPct: decimal.NewFromFloat(a.Config.Aggregation.TrendEpsilonPct),
	}, a.Logger)
}

func (a *App) newTracker(store *storage.Store) *reputation.Tracker {
	return reputation.New(store, reputation.Options{
		AccurateWithinPct: decimal.NewFromFloat(a.Config.Reputation.AccurateWithinPct),
		TrustGrantScore:   decimal.NewFromFloat(a.Config.Reputation.TrustGrantScore),
		TrustRevokeScore:  decimal.NewFromFloat(a.Config.Reputation.TrustRevokeScore),
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newFetchers() []fetcher.Fetcher {
	fetchers := make([]fetcher.Fetcher, 0, 2)
	if cg := a.Config.Fetchers.Coingecko; cg.Enabled {
		fetchers = append(fetchers, fetcher.NewCoingecko(fetcher.CoingeckoOptions{
			BaseURL:    cg.BaseURL,
			Timeout:    cg.RequestTimeout,
			UserAgent:  cg.UserAgent,
			CoinIDs:    cg.CoinIDs,
			VsCurrency: cg.VsCurrency,
		}, a.Logger))
	}
	if cl := a.Config.Fetchers.Chainlink; cl.Enabled {
		fetchers = append(fetchers, fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  cl.RPCURL,
			Feeds:   cl.Feeds,
			Timeout: cl.RequestTimeout,
		}, a.Logger))
	}
	return fetchers
}

// Run executes the long-running pipeline: the consensus cycle, the
// outbox dispatcher, and the external fetch loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := storage.ApplyMigrations(ctx, store.Pool(), a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	if applied > 0 {
		a.Logger.Info().Int("applied", applied).Msg("schema migrations applied")
	}

	priceCache := a.openCache(ctx)
	defer priceCache.Close()

	metrics.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger)

	var engine *alerting.Engine
	if a.Config.Alerting.Enabled {
		engine = alerting.NewEngine(store, nil, a.trendOptions(), a.Logger)
	}

	svc := service.New(store, a.newAggregator(store), a.newTracker(store), engine, priceCache, service.Options{
		Assets:       a.Config.Assets,
		HistoryLimit: a.Config.Aggregation.HistoryBound,
		TrendOpts:    a.trendOptions(),
	}, a.Logger)

	cycleSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := cycleSched.Run(ctx, svc.RunCycle); runErr != nil && !errors.Is(runErr, context.Canceled) {
			a.Logger.Error().Err(runErr).Msg("consensus cycle loop stopped")
		}
	}()

	if a.Config.Alerting.Enabled {
		dispatcher := alerting.NewDispatcher(store, a.newNotifier(), a.Config.Alerting.OutboxBatch, a.Logger)
		dispatchSched := scheduler.New(scheduler.Options{
			Interval: a.Config.Scheduler.DispatchInterval,
		}, a.Logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := dispatchSched.Run(ctx, func(ctx context.Context, _ time.Time) error {
				return dispatcher.DispatchPending(ctx)
			}); runErr != nil && !errors.Is(runErr, context.Canceled) {
				a.Logger.Error().Err(runErr).Msg("outbox dispatch loop stopped")
			}
		}()
	}

	if fetchers := a.newFetchers(); len(fetchers) > 0 {
		runner := service.NewFetchRunner(fetchers, a.newIntake(store), a.Logger)
		fetchSched := scheduler.New(scheduler.Options{
			Interval: a.Config.Scheduler.FetchInterval,
		}, a.Logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := fetchSched.Run(ctx, runner.RunOnce); runErr != nil && !errors.Is(runErr, context.Canceled) {
				a.Logger.Error().Err(runErr).Msg("fetch loop stopped")
			}
		}()
	}

	a.Logger.Info().Int("assets", len(a.Config.Assets)).Msg("pipeline started")
	wg.Wait()
	a.Logger.Info().Msg("pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset    string
	History  int
	SourceID string
}

// ReplayOptions configure historical recomputation.
type ReplayOptions struct {
	From time.Time
	To   time.Time
}

// ReportOptions configure daily report generation.
type ReportOptions struct {
	Asset string
	Day   time.Time
	Send  bool
}
