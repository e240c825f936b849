// Package alerting evaluates active alert rules against fresh consensus
// prices and hands qualifying firings to the notifier boundary through
// a durable outbox.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/metrics"
	"price-consensus/internal/storage"
	"price-consensus/internal/trend"
)

// ErrConfig marks a persisted alert whose parameter shape is
// inconsistent with its type. The alert is skipped for the cycle;
// other alerts keep evaluating.
var ErrConfig = errors.New("alerting: inconsistent alert parameters")

var hundred = decimal.NewFromInt(100)

// PlanGate resolves whether an owner may currently receive a given
// alert type. When nil the engine trusts creation-time validation.
type PlanGate func(ctx context.Context, ownerID string, alertType storage.AlertType) bool

// Snapshot is the stable per-asset view one evaluation cycle reads:
// the just-published consensus, the retained history (oldest first,
// current cycle last), and this cycle's detected patterns.
type Snapshot struct {
	Current  storage.AggregatedPrice
	History  []storage.PricePoint
	Patterns []trend.Pattern
}

// Engine matches alert rules against cycle snapshots.
type Engine struct {
	store     storage.AlertStore
	gate      PlanGate
	trendOpts trend.Options
	logger    zerolog.Logger
}

// NewEngine constructs the alert engine. trendOpts must match the
// options the detector ran with so the edge-trigger baseline agrees.
func NewEngine(store storage.AlertStore, gate PlanGate, trendOpts trend.Options, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		gate:      gate,
		trendOpts: trendOpts,
		logger:    logger.With().Str("component", "alert_engine").Logger(),
	}
}

// EvaluateCycle runs every active alert against the cycle's snapshots.
// A failure on one alert never aborts the rest of the batch.
func (e *Engine) EvaluateCycle(ctx context.Context, cycleTS time.Time, snapshots map[string]Snapshot) error {
	alerts, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}

	for _, alert := range alerts {
		snap, ok := snapshots[alert.Asset]
		if !ok {
			continue
		}

		firing, evalErr := e.evaluate(alert, snap, cycleTS)
		if evalErr != nil {
			e.logger.Warn().Err(evalErr).Int64("alert", alert.ID).Str("owner", alert.OwnerID).Msg("alert skipped for cycle")
			continue
		}
		if firing == nil {
			continue
		}

		if e.gate != nil && !e.gate(ctx, alert.OwnerID, alert.Type) {
			e.logger.Debug().Int64("alert", alert.ID).Str("owner", alert.OwnerID).Msg("plan gate suppressed firing")
			continue
		}

		event := storage.TriggerEvent{
			ID:        uuid.NewString(),
			AlertID:   alert.ID,
			OwnerID:   alert.OwnerID,
			Asset:     alert.Asset,
			Price:     firing.price,
			Reference: firing.reference,
			DeltaPct:  firing.deltaPct,
			Reason:    firing.reason,
			CycleTS:   cycleTS,
		}

		fired, fireErr := e.store.FireAlert(ctx, alert.ID, cycleTS, event)
		if fireErr != nil {
			e.logger.Error().Err(fireErr).Int64("alert", alert.ID).Msg("failed to record firing")
			continue
		}
		if !fired {
			// Another evaluator beat us to this cycle.
			continue
		}

		metrics.RecordAlertFired(string(alert.Type))
		e.logger.Info().
			Int64("alert", alert.ID).
			Str("owner", alert.OwnerID).
			Str("asset", alert.Asset).
			Str("reason", firing.reason).
			Str("price", firing.price.String()).
			Msg("alert fired")
	}

	return nil
}

type firing struct {
	price     decimal.Decimal
	reference decimal.Decimal
	deltaPct  decimal.Decimal
	reason    string
}

func (e *Engine) evaluate(alert storage.Alert, snap Snapshot, cycleTS time.Time) (*firing, error) {
	switch alert.Type {
	case storage.AlertThreshold:
		return evalThreshold(alert, snap)
	case storage.AlertMovement:
		return evalMovement(alert, snap, cycleTS)
	case storage.AlertZone:
		return evalZone(alert, snap)
	case storage.AlertTrend:
		return evalTrend(alert, snap, e.trendOpts)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrConfig, alert.Type)
	}
}

// evalThreshold fires when the price crosses the configured value in
// the configured direction. It cannot re-fire while the price stays on
// the triggered side because the previous cycle is then already there.
func evalThreshold(alert storage.Alert, snap Snapshot) (*firing, error) {
	if alert.Threshold == nil {
		return nil, fmt.Errorf("%w: threshold alert without threshold", ErrConfig)
	}

	previous, ok := previousPrice(snap)
	if !ok {
		return nil, nil
	}
	current := snap.Current.Price
	threshold := *alert.Threshold

	// A price sitting exactly on the threshold has not crossed yet, so
	// landing on it and moving past over two cycles still fires.
	crossedUp := previous.LessThanOrEqual(threshold) && current.GreaterThan(threshold)
	crossedDown := previous.GreaterThanOrEqual(threshold) && current.LessThan(threshold)

	direction := ""
	if alert.Direction != nil {
		direction = *alert.Direction
	}

	var crossed bool
	switch direction {
	case "above":
		crossed = crossedUp
	case "below":
		crossed = crossedDown
	case "":
		crossed = crossedUp || crossedDown
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrConfig, direction)
	}
	if !crossed {
		return nil, nil
	}

	return &firing{
		price:     current,
		reference: threshold,
		deltaPct:  changePct(threshold, current),
		reason:    "threshold",
	}, nil
}

// evalMovement fires when the move over the trailing window reaches the
// configured percentage, then stays suppressed for one window.
func evalMovement(alert storage.Alert, snap Snapshot, cycleTS time.Time) (*firing, error) {
	if alert.MovePct == nil || !alert.MovePct.IsPositive() {
		return nil, fmt.Errorf("%w: movement alert needs a positive percentage", ErrConfig)
	}
	if alert.Window == nil || *alert.Window <= 0 {
		return nil, fmt.Errorf("%w: movement alert needs a positive window", ErrConfig)
	}

	if alert.LastTriggered != nil && cycleTS.Sub(*alert.LastTriggered) < *alert.Window {
		return nil, nil
	}

	reference, ok := priceAt(snap, cycleTS.Add(-*alert.Window))
	if !ok || reference.IsZero() {
		return nil, nil
	}
	current := snap.Current.Price

	delta := changePct(reference, current)
	if delta.Abs().LessThan(*alert.MovePct) {
		return nil, nil
	}

	return &firing{
		price:     current,
		reference: reference,
		deltaPct:  delta,
		reason:    "movement",
	}, nil
}

// evalZone fires on entry: previous price outside [min,max], current
// inside. Cycles spent inside the zone stay quiet.
func evalZone(alert storage.Alert, snap Snapshot) (*firing, error) {
	if alert.ZoneMin == nil || alert.ZoneMax == nil {
		return nil, fmt.Errorf("%w: zone alert without bounds", ErrConfig)
	}
	if !alert.ZoneMin.LessThan(*alert.ZoneMax) {
		return nil, fmt.Errorf("%w: zone min must stay below max", ErrConfig)
	}

	previous, ok := previousPrice(snap)
	if !ok {
		return nil, nil
	}
	current := snap.Current.Price

	inside := func(p decimal.Decimal) bool {
		return p.GreaterThanOrEqual(*alert.ZoneMin) && p.LessThanOrEqual(*alert.ZoneMax)
	}
	if inside(previous) || !inside(current) {
		return nil, nil
	}

	return &firing{
		price:     current,
		reference: *alert.ZoneMin,
		deltaPct:  decimal.Zero,
		reason:    "zone",
	}, nil
}

// evalTrend fires on a pattern appearing this cycle that was absent the
// previous cycle, so a sustained pattern notifies once per detection
// event rather than every cycle it persists.
func evalTrend(alert storage.Alert, snap Snapshot, opts trend.Options) (*firing, error) {
	if len(alert.Patterns) == 0 {
		return nil, fmt.Errorf("%w: trend alert without patterns", ErrConfig)
	}

	wanted := make(map[trend.Pattern]struct{}, len(alert.Patterns))
	for _, p := range alert.Patterns {
		switch pattern := trend.Pattern(p); pattern {
		case trend.Uptrend, trend.Downtrend, trend.Volatility, trend.Reversal:
			wanted[pattern] = struct{}{}
		default:
			return nil, fmt.Errorf("%w: unknown pattern %q", ErrConfig, p)
		}
	}

	previous := previousPatterns(snap, opts)
	for _, pattern := range snap.Patterns {
		if _, ok := wanted[pattern]; !ok {
			continue
		}
		if _, seen := previous[pattern]; seen {
			continue
		}
		return &firing{
			price:     snap.Current.Price,
			reference: snap.Current.Price,
			deltaPct:  decimal.Zero,
			reason:    "trend:" + string(pattern),
		}, nil
	}
	return nil, nil
}

// previousPrice is the price point of the cycle before the current one.
func previousPrice(snap Snapshot) (decimal.Decimal, bool) {
	if len(snap.History) < 2 {
		return decimal.Decimal{}, false
	}
	return snap.History[len(snap.History)-2].Price, true
}

// priceAt finds the latest history point at or before the target time.
func priceAt(snap Snapshot, target time.Time) (decimal.Decimal, bool) {
	for i := len(snap.History) - 1; i >= 0; i-- {
		if !snap.History[i].CycleTS.After(target) {
			return snap.History[i].Price, true
		}
	}
	return decimal.Decimal{}, false
}

// previousPatterns re-runs detection on the history minus the current
// cycle's point, giving the edge-trigger baseline.
func previousPatterns(snap Snapshot, opts trend.Options) map[trend.Pattern]struct{} {
	seen := make(map[trend.Pattern]struct{})
	if len(snap.History) < 2 {
		return seen
	}
	prices := make([]decimal.Decimal, 0, len(snap.History)-1)
	for _, p := range snap.History[:len(snap.History)-1] {
		prices = append(prices, p.Price)
	}
	for _, pattern := range trend.Detect(prices, opts) {
		seen[pattern] = struct{}{}
	}
	return seen
}

func changePct(reference, current decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).Div(reference).Mul(hundred)
}
