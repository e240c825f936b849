// Package report reduces one day of price history into the summary
// handed to the notifier boundary and persisted for audit.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

// ErrNoData reports an empty history window for the report day.
var ErrNoData = errors.New("report: no price points for day")

// Store is the persistence surface report generation needs.
type Store interface {
	ListPricePointsBetween(ctx context.Context, asset string, from, to time.Time) ([]storage.PricePoint, error)
	UpsertDailyReport(ctx context.Context, report storage.DailyReport) error
}

// Generator builds daily summaries.
type Generator struct {
	store  Store
	logger zerolog.Logger
}

// New constructs a report generator.
func New(store Store, logger zerolog.Logger) *Generator {
	return &Generator{store: store, logger: logger.With().Str("component", "report").Logger()}
}

// Build computes the summary for one asset and UTC day without
// persisting it.
func (g *Generator) Build(ctx context.Context, asset string, day time.Time) (storage.DailyReport, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	points, err := g.store.ListPricePointsBetween(ctx, asset, start, end)
	if err != nil {
		return storage.DailyReport{}, fmt.Errorf("load day history: %w", err)
	}
	if len(points) == 0 {
		return storage.DailyReport{}, ErrNoData
	}

	report := Summarise(asset, start, points)
	return report, nil
}

// Generate builds and persists the summary for one asset and day.
func (g *Generator) Generate(ctx context.Context, asset string, day time.Time) (storage.DailyReport, error) {
	report, err := g.Build(ctx, asset, day)
	if err != nil {
		return storage.DailyReport{}, err
	}

	if err := g.store.UpsertDailyReport(ctx, report); err != nil {
		return storage.DailyReport{}, fmt.Errorf("persist daily report: %w", err)
	}

	g.logger.Info().
		Str("asset", asset).
		Str("date", report.Date.Format("2006-01-02")).
		Str("close", report.Close.String()).
		Msg("daily report generated")
	return report, nil
}

// Summarise reduces ordered points (oldest first) to one report row.
func Summarise(asset string, date time.Time, points []storage.PricePoint) storage.DailyReport {
	open := points[0].Price
	close := points[len(points)-1].Price
	high := open
	low := open

	sum := 0.0
	values := make([]float64, len(points))
	for i, p := range points {
		if p.Price.GreaterThan(high) {
			high = p.Price
		}
		if p.Price.LessThan(low) {
			low = p.Price
		}
		values[i] = p.Price.InexactFloat64()
		sum += values[i]
	}

	trend := storage.TrendStable
	switch {
	case close.GreaterThan(open):
		trend = storage.TrendUp
	case close.LessThan(open):
		trend = storage.TrendDown
	}

	return storage.DailyReport{
		Asset:      asset,
		Date:       date,
		Open:       open,
		Close:      close,
		High:       high,
		Low:        low,
		Trend:      trend,
		Volatility: coefficientOfVariation(values, sum),
	}
}

func coefficientOfVariation(values []float64, sum float64) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return decimal.Zero
	}

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	return decimal.NewFromFloat(math.Sqrt(variance) / math.Abs(mean) * 100)
}
