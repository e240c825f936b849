package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

type windowCall struct {
	asset string
	since time.Time
	until time.Time
}

type fakeAggStore struct {
	window    []storage.ContributingSubmission
	judged    []storage.ContributingSubmission
	published []storage.AggregatedPrice

	windowCalls []windowCall
	judgedCalls []windowCall
	rangeCalls  []windowCall
}

func (f *fakeAggStore) InsertSubmission(ctx context.Context, sub storage.Submission) (int64, error) {
	return 0, nil
}

func (f *fakeAggStore) RecentAverage(ctx context.Context, asset string, since time.Time) (decimal.Decimal, int, error) {
	return decimal.Zero, 0, nil
}

func (f *fakeAggStore) AggregationWindow(ctx context.Context, asset string, since, until time.Time) ([]storage.ContributingSubmission, error) {
	f.windowCalls = append(f.windowCalls, windowCall{asset, since, until})
	return f.window, nil
}

func (f *fakeAggStore) JudgementWindow(ctx context.Context, asset string, since, until time.Time) ([]storage.ContributingSubmission, error) {
	f.judgedCalls = append(f.judgedCalls, windowCall{asset, since, until})
	return f.judged, nil
}

func (f *fakeAggStore) Range24h(ctx context.Context, asset string, since, until time.Time) (decimal.Decimal, decimal.Decimal, error) {
	f.rangeCalls = append(f.rangeCalls, windowCall{asset, since, until})
	return decimal.NewFromInt(102), decimal.NewFromInt(100), nil
}

func (f *fakeAggStore) PublishAggregatedPrice(ctx context.Context, agg storage.AggregatedPrice, point storage.PricePoint, historyBound int) error {
	f.published = append(f.published, agg)
	return nil
}

func (f *fakeAggStore) GetAggregatedPrice(ctx context.Context, asset string) (storage.AggregatedPrice, error) {
	return storage.AggregatedPrice{}, pgx.ErrNoRows
}

func (f *fakeAggStore) ListPricePoints(ctx context.Context, asset string, limit int) ([]storage.PricePoint, error) {
	return nil, nil
}

func (f *fakeAggStore) ListPricePointsBetween(ctx context.Context, asset string, from, to time.Time) ([]storage.PricePoint, error) {
	return nil, nil
}

func sourced(id string, value int64, suspicious bool) storage.ContributingSubmission {
	src := id
	return storage.ContributingSubmission{Submission: storage.Submission{
		SourceID:     &src,
		Value:        decimal.NewFromInt(value),
		IsValid:      !suspicious,
		IsSuspicious: suspicious,
	}}
}

func TestRunAssetBoundsWindowsAtCycle(t *testing.T) {
	contributing := []storage.ContributingSubmission{
		sourced("a", 100, false),
		sourced("b", 101, false),
		sourced("c", 102, false),
	}
	store := &fakeAggStore{
		window: contributing,
		judged: append(append([]storage.ContributingSubmission{}, contributing...), sourced("bad", 150, true)),
	}
	aggregator := New(store, Options{
		Window:          10 * time.Minute,
		Weights:         DefaultWeights(),
		MinContributors: 3,
		HistoryBound:    100,
		TrendEpsilonPct: decimal.NewFromFloat(0.05),
	}, zerolog.Nop())

	cycle := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	result, err := aggregator.RunAsset(context.Background(), "usd", cycle)
	if err != nil {
		t.Fatalf("RunAsset failed: %v", err)
	}

	// Every window query must stop at the cycle timestamp so replayed
	// cycles never see submissions made after them.
	for _, call := range [][]windowCall{store.windowCalls, store.judgedCalls, store.rangeCalls} {
		if len(call) != 1 {
			t.Fatalf("each window query should run once, got %d", len(call))
		}
		if !call[0].until.Equal(cycle) {
			t.Fatalf("window query upper bound should be the cycle timestamp, got %s", call[0].until)
		}
	}
	if !store.windowCalls[0].since.Equal(cycle.Add(-10 * time.Minute)) {
		t.Fatalf("window lower bound should trail the cycle by the window, got %s", store.windowCalls[0].since)
	}

	// The consensus only weighs the contributing set.
	if len(store.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(store.published))
	}
	if !store.published[0].Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("suspicious submission leaked into the consensus: %s", store.published[0].Price)
	}

	// The judgeable set still carries the excluded submission so its
	// source is held to account.
	if len(result.Window) != 3 {
		t.Fatalf("contributing set should have 3 entries, got %d", len(result.Window))
	}
	if len(result.Judged) != 4 {
		t.Fatalf("judgeable set should include the excluded submission, got %d entries", len(result.Judged))
	}
	foundExcluded := false
	for _, sub := range result.Judged {
		if sub.IsSuspicious {
			foundExcluded = true
		}
	}
	if !foundExcluded {
		t.Fatal("judgeable set lost the suspicious submission")
	}
}
