// Package reputation maintains per-source accuracy counters and the
// trusted/flagged status consumed by aggregation weighting.
package reputation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Options tune judgement and the trust hysteresis band.
type Options struct {
	AccurateWithinPct decimal.Decimal
	TrustGrantScore   decimal.Decimal
	TrustRevokeScore  decimal.Decimal
}

// DefaultOptions mirror the production thresholds: accurate within 5%,
// trust granted above 85, revoked below 70.
func DefaultOptions() Options {
	return Options{
		AccurateWithinPct: decimal.NewFromInt(5),
		TrustGrantScore:   decimal.NewFromInt(85),
		TrustRevokeScore:  decimal.NewFromInt(70),
	}
}

// Tracker applies post-cycle accuracy judgements to source rows.
type Tracker struct {
	store  storage.SourceStore
	opts   Options
	logger zerolog.Logger
}

// New constructs a tracker.
func New(store storage.SourceStore, opts Options, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "reputation").Logger(),
	}
}

// Accurate reports whether a submission lands within the accuracy band
// of the final aggregated price.
func Accurate(value, aggregated decimal.Decimal, withinPct decimal.Decimal) bool {
	if aggregated.IsZero() {
		return false
	}
	deviation := value.Sub(aggregated).Div(aggregated).Mul(hundred).Abs()
	return deviation.LessThanOrEqual(withinPct)
}

// Score recomputes the reputation ratio. With zero judged submissions
// the score is not computed and zero is kept as the stored placeholder.
func Score(accurate, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(accurate).Div(decimal.NewFromInt(total)).Mul(hundred)
}

// NextTrusted applies the hysteresis rule: trust is granted only above
// the grant score and revoked only below the revoke score; scores in
// between preserve the prior state so small changes never oscillate.
func NextTrusted(score decimal.Decimal, prevTrusted bool, opts Options) bool {
	switch {
	case score.GreaterThan(opts.TrustGrantScore):
		return true
	case score.LessThan(opts.TrustRevokeScore):
		return false
	default:
		return prevTrusted
	}
}

// JudgeCycle classifies every attributed submission of a finished
// cycle against the published price and updates the sources. The
// window must include submissions that were excluded from the
// consensus: a wildly deviant submission still raises its source's
// total and lowers the ratio. It runs strictly after the cycle's
// aggregation write; the caller guarantees the ordering. A failure on
// one source does not abort the rest.
func (t *Tracker) JudgeCycle(ctx context.Context, window []storage.ContributingSubmission, aggregated decimal.Decimal) {
	if aggregated.IsZero() {
		return
	}

	for _, sub := range window {
		if sub.SourceID == nil {
			// Anonymous api submissions carry no reputation.
			continue
		}
		accurate := Accurate(sub.Value, aggregated, t.opts.AccurateWithinPct)

		_, err := t.store.UpdateSource(ctx, *sub.SourceID, func(src *storage.Source) {
			src.Total++
			if accurate {
				src.Accurate++
			}
			src.Score = Score(src.Accurate, src.Total)
			src.Trusted = NextTrusted(src.Score, src.Trusted, t.opts)
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			t.logger.Error().Err(err).Str("source", *sub.SourceID).Msg("failed to apply judgement")
		}
	}
}
