package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

func sub(value float64, trusted bool, upvotes int) storage.ContributingSubmission {
	return storage.ContributingSubmission{
		Submission: storage.Submission{
			Value:   decimal.NewFromFloat(value),
			Upvotes: upvotes,
			IsValid: true,
		},
		SourceTrusted: trusted,
	}
}

func TestSubmissionWeightComposes(t *testing.T) {
	w := DefaultWeights()

	cases := []struct {
		name string
		sub  storage.ContributingSubmission
		want string
	}{
		{"base", sub(100, false, 0), "1"},
		{"trusted", sub(100, true, 0), "2"},
		{"upvoted", sub(100, false, 11), "1.5"},
		{"exactly ten upvotes is not enough", sub(100, false, 10), "1"},
		{"trusted and upvoted compose", sub(100, true, 11), "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want, _ := decimal.NewFromString(tc.want)
			got := SubmissionWeight(tc.sub, w)
			if !got.Equal(want) {
				t.Fatalf("weight = %s, want %s", got, want)
			}
		})
	}
}

func TestComputeWeightedConsensus(t *testing.T) {
	// {100 untrusted, 110 untrusted, 105 trusted} ->
	// (100 + 110 + 105*2) / 4 = 105, high confidence.
	subs := []storage.ContributingSubmission{
		sub(100, false, 0),
		sub(110, false, 0),
		sub(105, true, 0),
	}

	got := Compute(subs, DefaultWeights(), 3)
	if !got.Price.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("price = %s, want 105", got.Price)
	}
	if got.Confidence != storage.ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", got.Confidence)
	}
	if got.Contributors != 3 || got.Trusted != 1 {
		t.Fatalf("contributors = %d trusted = %d", got.Contributors, got.Trusted)
	}
	if !got.Spread.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("spread = %s, want 10", got.Spread)
	}
}

func TestComputeConfidenceLadder(t *testing.T) {
	// Two contributors: low regardless of trust.
	got := Compute([]storage.ContributingSubmission{
		sub(100, true, 0),
		sub(102, true, 0),
	}, DefaultWeights(), 3)
	if got.Confidence != storage.ConfidenceLow {
		t.Fatalf("two contributors should be low confidence, got %s", got.Confidence)
	}

	// Three contributors, none trusted: medium.
	got = Compute([]storage.ContributingSubmission{
		sub(100, false, 0),
		sub(101, false, 0),
		sub(102, false, 0),
	}, DefaultWeights(), 3)
	if got.Confidence != storage.ConfidenceMedium {
		t.Fatalf("untrusted set should be medium confidence, got %s", got.Confidence)
	}
}

func TestComputeEmptySet(t *testing.T) {
	got := Compute(nil, DefaultWeights(), 3)
	if !got.Empty {
		t.Fatal("empty set must be marked empty")
	}
	if got.Confidence != storage.ConfidenceLow {
		t.Fatalf("empty set forces low confidence, got %s", got.Confidence)
	}
}

func TestTrendLabel(t *testing.T) {
	epsilon := decimal.NewFromFloat(0.05)

	cases := []struct {
		name     string
		current  float64
		previous float64
		want     storage.TrendLabel
	}{
		{"up", 101, 100, storage.TrendUp},
		{"down", 99, 100, storage.TrendDown},
		{"within epsilon", 100.01, 100, storage.TrendStable},
		{"no previous", 100, 0, storage.TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TrendLabel(decimal.NewFromFloat(tc.current), decimal.NewFromFloat(tc.previous), epsilon)
			if got != tc.want {
				t.Fatalf("TrendLabel = %s, want %s", got, tc.want)
			}
		})
	}
}
