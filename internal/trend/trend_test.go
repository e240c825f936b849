package trend

import (
	"testing"

	"github.com/shopspring/decimal"
)

func series(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func hasPattern(patterns []Pattern, want Pattern) bool {
	for _, p := range patterns {
		if p == want {
			return true
		}
	}
	return false
}

func TestDetectUptrend(t *testing.T) {
	opts := DefaultOptions()

	// Strictly increasing with a 5% total rise over the last 3 points.
	patterns := Detect(series(100, 100, 100, 101, 103, 105), opts)
	if !hasPattern(patterns, Uptrend) {
		t.Fatalf("expected uptrend, got %v", patterns)
	}

	// Strictly increasing but total rise only 1%: below threshold.
	patterns = Detect(series(100, 100.3, 100.6, 101), opts)
	if hasPattern(patterns, Uptrend) {
		t.Fatalf("1%% rise should not flag uptrend, got %v", patterns)
	}

	// Not strictly increasing.
	patterns = Detect(series(100, 105, 104, 106), opts)
	if hasPattern(patterns, Uptrend) {
		t.Fatalf("non-monotonic tail should not flag uptrend, got %v", patterns)
	}
}

func TestDetectDowntrend(t *testing.T) {
	opts := DefaultOptions()

	patterns := Detect(series(105, 105, 105, 104, 102, 100), opts)
	if !hasPattern(patterns, Downtrend) {
		t.Fatalf("expected downtrend, got %v", patterns)
	}

	patterns = Detect(series(100, 99.8, 99.5, 99.2), opts)
	if hasPattern(patterns, Downtrend) {
		t.Fatalf("sub-threshold decline should not flag downtrend, got %v", patterns)
	}
}

func TestDetectVolatility(t *testing.T) {
	opts := DefaultOptions()

	// Alternating 100/108 gives a coefficient of variation around 3.8%.
	volatile := series(100, 108, 100, 108, 100, 108, 100, 108, 100, 108)
	if !hasPattern(Detect(volatile, opts), Volatility) {
		t.Fatal("expected volatility flag for ~4% dispersion")
	}

	// Alternating 100/104 stays under the 3% threshold.
	calm := series(100, 104, 100, 104, 100, 104, 100, 104, 100, 104)
	if hasPattern(Detect(calm, opts), Volatility) {
		t.Fatal("~2% dispersion should not flag volatility")
	}

	// Too few points for the sample.
	if hasPattern(Detect(series(100, 140, 100), opts), Volatility) {
		t.Fatal("short history should not flag volatility")
	}
}

func TestDetectReversal(t *testing.T) {
	opts := DefaultOptions()

	// Five rising intervals then a drop.
	patterns := Detect(series(100, 101, 102, 103, 104, 105, 104), opts)
	if !hasPattern(patterns, Reversal) {
		t.Fatalf("expected reversal, got %v", patterns)
	}

	// Five falling intervals then a rise.
	patterns = Detect(series(105, 104, 103, 102, 101, 100, 101), opts)
	if !hasPattern(patterns, Reversal) {
		t.Fatalf("expected reversal after a down run, got %v", patterns)
	}

	// Only four sustained intervals: not enough.
	patterns = Detect(series(100, 101, 102, 103, 104, 103), opts)
	if hasPattern(patterns, Reversal) {
		t.Fatalf("four-interval run should not flag reversal, got %v", patterns)
	}

	// Continuation, no direction change.
	patterns = Detect(series(100, 101, 102, 103, 104, 105, 106), opts)
	if hasPattern(patterns, Reversal) {
		t.Fatalf("sustained run should not flag reversal, got %v", patterns)
	}
}
