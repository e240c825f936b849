// Package validator applies the stateless statistical check each
// incoming submission passes before it is persisted as valid.
package validator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidFormat rejects malformed submissions synchronously; they
// are never persisted.
var ErrInvalidFormat = errors.New("invalid submission format")

var hundred = decimal.NewFromInt(100)

// Result is what the caller persists alongside the submission.
type Result struct {
	IsSuspicious bool
	DeviationPct decimal.Decimal
}

// Validator is a pure function of its inputs; it holds thresholds only.
type Validator struct {
	suspicionPct decimal.Decimal
	assets       map[string]struct{}
}

// New builds a validator for the tracked asset set.
func New(suspicionPct float64, assets []string) *Validator {
	tracked := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		tracked[a] = struct{}{}
	}
	return &Validator{
		suspicionPct: decimal.NewFromFloat(suspicionPct),
		assets:       tracked,
	}
}

// Validate judges one observation against the asset's recent average.
// hasAverage=false means no valid submissions exist in the recent
// window yet; the observation cannot be judged suspicious and is
// accepted pending average formation.
func (v *Validator) Validate(asset string, value decimal.Decimal, recentAvg decimal.Decimal, hasAverage bool) (Result, error) {
	if _, ok := v.assets[asset]; !ok {
		return Result{}, fmt.Errorf("%w: unknown asset %q", ErrInvalidFormat, asset)
	}
	if !value.IsPositive() {
		return Result{}, fmt.Errorf("%w: value must be greater than zero", ErrInvalidFormat)
	}

	if !hasAverage || recentAvg.IsZero() {
		return Result{DeviationPct: decimal.Zero}, nil
	}

	deviation := value.Sub(recentAvg).Div(recentAvg).Mul(hundred)

	// Boundary is exclusive: exactly the threshold is still acceptable.
	return Result{
		IsSuspicious: deviation.Abs().GreaterThan(v.suspicionPct),
		DeviationPct: deviation,
	}, nil
}
