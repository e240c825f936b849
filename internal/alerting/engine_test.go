package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
	"price-consensus/internal/trend"
)

type fakeAlertStore struct {
	alerts []storage.Alert
	events []storage.TriggerEvent
}

func (f *fakeAlertStore) ListActiveAlerts(ctx context.Context) ([]storage.Alert, error) {
	out := make([]storage.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out, nil
}

func (f *fakeAlertStore) FireAlert(ctx context.Context, alertID int64, cycleTS time.Time, event storage.TriggerEvent) (bool, error) {
	for i := range f.alerts {
		if f.alerts[i].ID != alertID {
			continue
		}
		if f.alerts[i].LastCycleTS != nil && f.alerts[i].LastCycleTS.Equal(cycleTS) {
			return false, nil
		}
		now := time.Now().UTC()
		cycle := cycleTS
		f.alerts[i].LastTriggered = &now
		f.alerts[i].LastCycleTS = &cycle
		f.events = append(f.events, event)
		return true, nil
	}
	return false, nil
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func strPtr(s string) *string { return &s }

// snapshotFor builds a cycle snapshot from a price series ending at
// cycleTS, points spaced one cycle apart.
func snapshotFor(asset string, cycleTS time.Time, prices ...float64) Snapshot {
	history := make([]storage.PricePoint, len(prices))
	series := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		ts := cycleTS.Add(-time.Duration(len(prices)-1-i) * 30 * time.Second)
		history[i] = storage.PricePoint{Asset: asset, Price: dec(p), CycleTS: ts}
		series[i] = dec(p)
	}
	return Snapshot{
		Current: storage.AggregatedPrice{
			Asset:     asset,
			Price:     dec(prices[len(prices)-1]),
			UpdatedAt: cycleTS,
		},
		History:  history,
		Patterns: trend.Detect(series, trend.DefaultOptions()),
	}
}

func newTestEngine(store storage.AlertStore, gate PlanGate) *Engine {
	return NewEngine(store, gate, trend.DefaultOptions(), zerolog.Nop())
}

func TestThresholdFiresOncePerCrossing(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:        1,
		OwnerID:   "owner",
		Asset:     "btc",
		Type:      storage.AlertThreshold,
		Threshold: decPtr(100),
		Direction: strPtr("above"),
		Active:    true,
	}}}
	engine := newTestEngine(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 95 -> 105 crosses above.
	cycle1 := base
	if err := engine.EvaluateCycle(ctx, cycle1, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle1, 95, 95, 95, 105),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one firing, got %d", len(store.events))
	}
	if store.events[0].Reason != "threshold" {
		t.Fatalf("unexpected reason %q", store.events[0].Reason)
	}

	// 105 -> 106 stays above: no re-fire without crossing back.
	cycle2 := base.Add(30 * time.Second)
	if err := engine.EvaluateCycle(ctx, cycle2, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle2, 95, 95, 105, 106),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("sustained side must not re-fire, got %d events", len(store.events))
	}
}

func TestThresholdDirectionFilter(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:        1,
		OwnerID:   "owner",
		Asset:     "btc",
		Type:      storage.AlertThreshold,
		Threshold: decPtr(100),
		Direction: strPtr("below"),
		Active:    true,
	}}}
	engine := newTestEngine(store, nil)
	cycle := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Upward crossing must not satisfy a "below" alert.
	if err := engine.EvaluateCycle(context.Background(), cycle, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle, 95, 95, 95, 105),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("expected no firing, got %d", len(store.events))
	}
}

func TestZoneFiresOnEntryOnly(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:      2,
		OwnerID: "owner",
		Asset:   "gold",
		Type:    storage.AlertZone,
		ZoneMin: decPtr(50),
		ZoneMax: decPtr(60),
		Active:  true,
	}}}
	engine := newTestEngine(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 45 -> 55 enters the zone.
	if err := engine.EvaluateCycle(ctx, base, map[string]Snapshot{
		"gold": snapshotFor("gold", base, 45, 45, 45, 55),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one firing on entry, got %d", len(store.events))
	}

	// Staying inside must not fire again.
	cycle2 := base.Add(30 * time.Second)
	if err := engine.EvaluateCycle(ctx, cycle2, map[string]Snapshot{
		"gold": snapshotFor("gold", cycle2, 45, 45, 55, 57),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("cycles inside the zone must stay quiet, got %d events", len(store.events))
	}
}

func TestMovementFiresAndSuppresses(t *testing.T) {
	window := 2 * time.Minute
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:      3,
		OwnerID: "owner",
		Asset:   "btc",
		Type:    storage.AlertMovement,
		MovePct: decPtr(5),
		Window:  &window,
		Active:  true,
	}}}
	engine := newTestEngine(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 100 at t-2m, 106 now: 6% move over the window.
	if err := engine.EvaluateCycle(ctx, base, map[string]Snapshot{
		"btc": snapshotFor("btc", base, 100, 101, 102, 104, 106),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one movement firing, got %d", len(store.events))
	}

	// The next cycle still qualifies numerically but stays suppressed
	// for one window after firing.
	cycle2 := base.Add(30 * time.Second)
	if err := engine.EvaluateCycle(ctx, cycle2, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle2, 101, 102, 104, 106, 108),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("movement must stay suppressed within the window, got %d events", len(store.events))
	}
}

func TestTrendFiresOnFreshDetection(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:       4,
		OwnerID:  "owner",
		Asset:    "btc",
		Type:     storage.AlertTrend,
		Patterns: []string{"uptrend"},
		Active:   true,
	}}}
	engine := newTestEngine(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// The uptrend appears only once the last point lands.
	if err := engine.EvaluateCycle(ctx, base, map[string]Snapshot{
		"btc": snapshotFor("btc", base, 100, 101, 100.5, 102, 104),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one trend firing, got %d", len(store.events))
	}
	if store.events[0].Reason != "trend:uptrend" {
		t.Fatalf("unexpected reason %q", store.events[0].Reason)
	}

	// The pattern persisting into the next cycle is not a new event.
	cycle2 := base.Add(30 * time.Second)
	if err := engine.EvaluateCycle(ctx, cycle2, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle2, 101, 100.5, 102, 104, 106),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("persisting pattern must not re-fire, got %d events", len(store.events))
	}
}

func TestMalformedAlertIsIsolated(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{
		{
			ID:      5,
			OwnerID: "owner",
			Asset:   "btc",
			Type:    storage.AlertZone,
			ZoneMin: decPtr(60),
			ZoneMax: decPtr(50), // inverted bounds: ConfigError
			Active:  true,
		},
		{
			ID:        6,
			OwnerID:   "owner",
			Asset:     "btc",
			Type:      storage.AlertThreshold,
			Threshold: decPtr(100),
			Active:    true,
		},
	}}
	engine := newTestEngine(store, nil)
	cycle := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := engine.EvaluateCycle(context.Background(), cycle, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle, 95, 95, 95, 105),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("healthy alert must still fire, got %d events", len(store.events))
	}
	if store.events[0].AlertID != 6 {
		t.Fatalf("expected alert 6 to fire, got %d", store.events[0].AlertID)
	}
}

func TestPlanGateSuppressesFiring(t *testing.T) {
	window := 2 * time.Minute
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:      7,
		OwnerID: "downgraded",
		Asset:   "btc",
		Type:    storage.AlertMovement,
		MovePct: decPtr(5),
		Window:  &window,
		Active:  true,
	}}}
	gate := func(ctx context.Context, ownerID string, alertType storage.AlertType) bool {
		return alertType != storage.AlertMovement
	}
	engine := newTestEngine(store, gate)
	cycle := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := engine.EvaluateCycle(context.Background(), cycle, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle, 100, 101, 102, 104, 106),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("gated alert must not emit, got %d events", len(store.events))
	}
}

func TestFireIsIdempotentPerCycle(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:        8,
		OwnerID:   "owner",
		Asset:     "btc",
		Type:      storage.AlertThreshold,
		Threshold: decPtr(100),
		Active:    true,
	}}}
	engine := newTestEngine(store, nil)
	cycle := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := map[string]Snapshot{"btc": snapshotFor("btc", cycle, 95, 95, 95, 105)}

	for i := 0; i < 2; i++ {
		if err := engine.EvaluateCycle(context.Background(), cycle, snaps); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(store.events) != 1 {
		t.Fatalf("re-running the same cycle must emit once, got %d events", len(store.events))
	}
}

func TestThresholdFiresAfterLandingOnValue(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.Alert{{
		ID:        1,
		OwnerID:   "owner",
		Asset:     "btc",
		Type:      storage.AlertThreshold,
		Threshold: decPtr(100),
		Direction: strPtr("above"),
		Active:    true,
	}}}
	engine := newTestEngine(store, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// 95 -> 100 lands exactly on the threshold: not yet a crossing.
	cycle1 := base
	if err := engine.EvaluateCycle(ctx, cycle1, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle1, 95, 95, 95, 100),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("touching the threshold must not fire, got %d events", len(store.events))
	}

	// 100 -> 105 moves past from the threshold itself: this is the crossing.
	cycle2 := base.Add(30 * time.Second)
	if err := engine.EvaluateCycle(ctx, cycle2, map[string]Snapshot{
		"btc": snapshotFor("btc", cycle2, 95, 95, 100, 105),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("moving past the threshold after landing on it must fire, got %d events", len(store.events))
	}
}
