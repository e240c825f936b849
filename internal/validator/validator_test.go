package validator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestValidator() *Validator {
	return New(10.0, []string{"usd", "gold", "btc"})
}

func TestValidateRejectsBadInput(t *testing.T) {
	v := newTestValidator()

	if _, err := v.Validate("doge", decimal.NewFromInt(1), decimal.Zero, false); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("unknown asset should fail with ErrInvalidFormat, got %v", err)
	}
	if _, err := v.Validate("usd", decimal.Zero, decimal.Zero, false); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("zero value should fail with ErrInvalidFormat, got %v", err)
	}
	if _, err := v.Validate("usd", decimal.NewFromInt(-5), decimal.Zero, false); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("negative value should fail with ErrInvalidFormat, got %v", err)
	}
}

func TestValidateWithoutAverage(t *testing.T) {
	v := newTestValidator()

	res, err := v.Validate("usd", decimal.NewFromInt(1000), decimal.Zero, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsSuspicious {
		t.Fatal("submission without a formed average must not be suspicious")
	}
	if !res.DeviationPct.IsZero() {
		t.Fatalf("deviation should be zero without an average, got %s", res.DeviationPct)
	}
}

func TestValidateDeviationBoundary(t *testing.T) {
	v := newTestValidator()
	avg := decimal.NewFromInt(100)

	cases := []struct {
		name       string
		value      decimal.Decimal
		suspicious bool
		deviation  string
	}{
		{"exactly +10pct is acceptable", decimal.NewFromInt(110), false, "10"},
		{"exactly -10pct is acceptable", decimal.NewFromInt(90), false, "-10"},
		{"just above threshold", decimal.NewFromFloat(110.01), true, "10.01"},
		{"just below threshold", decimal.NewFromFloat(89.99), true, "-10.01"},
		{"no deviation", decimal.NewFromInt(100), false, "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := v.Validate("gold", tc.value, avg, true)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.IsSuspicious != tc.suspicious {
				t.Fatalf("suspicious = %v, want %v", res.IsSuspicious, tc.suspicious)
			}
			want, _ := decimal.NewFromString(tc.deviation)
			if !res.DeviationPct.Equal(want) {
				t.Fatalf("deviation = %s, want %s", res.DeviationPct, want)
			}
		})
	}
}
