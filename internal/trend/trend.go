// Package trend analyses the bounded per-asset price history for
// uptrend, downtrend, volatility, and reversal patterns.
package trend

import (
	"math"

	"github.com/shopspring/decimal"
)

// Pattern labels one detected signal.
type Pattern string

const (
	Uptrend    Pattern = "uptrend"
	Downtrend  Pattern = "downtrend"
	Volatility Pattern = "volatility"
	Reversal   Pattern = "reversal"
)

// Options tune detection thresholds.
type Options struct {
	// RunLength is the number of consecutive points a directional run
	// must span before it counts as a trend.
	RunLength int
	// MovePct is the total percentage change a run must exceed.
	MovePct float64
	// VolatilityPoints is the sample size for the dispersion check.
	VolatilityPoints int
	// VolatilityPct is the coefficient-of-variation threshold.
	VolatilityPct float64
	// ReversalRun is the minimum sustained run before a direction
	// change counts as a reversal.
	ReversalRun int
}

// DefaultOptions mirror the production thresholds.
func DefaultOptions() Options {
	return Options{
		RunLength:        3,
		MovePct:          2.0,
		VolatilityPoints: 10,
		VolatilityPct:    3.0,
		ReversalRun:      5,
	}
}

// Detect returns zero or more patterns for one asset's ordered history,
// most recent point last. The analysis is pure; it holds no state
// beyond its inputs.
func Detect(points []decimal.Decimal, opts Options) []Pattern {
	patterns := make([]Pattern, 0, 2)

	if up, down := directionalRun(points, opts.RunLength, opts.MovePct); up {
		patterns = append(patterns, Uptrend)
	} else if down {
		patterns = append(patterns, Downtrend)
	}

	if volatile(points, opts.VolatilityPoints, opts.VolatilityPct) {
		patterns = append(patterns, Volatility)
	}

	if reversed(points, opts.ReversalRun) {
		patterns = append(patterns, Reversal)
	}

	return patterns
}

// directionalRun checks whether the last runLength points move strictly
// in one direction with total magnitude above movePct.
func directionalRun(points []decimal.Decimal, runLength int, movePct float64) (up, down bool) {
	if runLength < 2 || len(points) < runLength {
		return false, false
	}

	tail := points[len(points)-runLength:]
	increasing, decreasing := true, true
	for i := 1; i < len(tail); i++ {
		if !tail[i].GreaterThan(tail[i-1]) {
			increasing = false
		}
		if !tail[i].LessThan(tail[i-1]) {
			decreasing = false
		}
	}
	if !increasing && !decreasing {
		return false, false
	}

	first := tail[0]
	if first.IsZero() {
		return false, false
	}
	changePct := tail[len(tail)-1].Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	threshold := decimal.NewFromFloat(movePct)

	if increasing && changePct.GreaterThan(threshold) {
		return true, false
	}
	if decreasing && changePct.Neg().GreaterThan(threshold) {
		return false, true
	}
	return false, false
}

// volatile checks the population coefficient of variation over the last
// sample points.
func volatile(points []decimal.Decimal, sample int, thresholdPct float64) bool {
	if sample < 2 || len(points) < sample {
		return false
	}

	tail := points[len(points)-sample:]
	values := make([]float64, len(tail))
	sum := 0.0
	for i, p := range tail {
		values[i] = p.InexactFloat64()
		sum += values[i]
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return false
	}

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	cv := math.Sqrt(variance) / math.Abs(mean) * 100
	return cv > thresholdPct
}

// reversed checks for a sustained run of at least minRun intervals in
// one direction followed by a change of direction at the tail.
func reversed(points []decimal.Decimal, minRun int) bool {
	if minRun < 1 || len(points) < minRun+2 {
		return false
	}

	last := points[len(points)-1]
	prev := points[len(points)-2]
	lastDir := direction(prev, last)
	if lastDir == 0 {
		return false
	}

	// Walk backwards through the run preceding the final interval.
	run := 0
	runDir := 0
	for i := len(points) - 2; i > 0; i-- {
		d := direction(points[i-1], points[i])
		if d == 0 {
			break
		}
		if runDir == 0 {
			runDir = d
		} else if d != runDir {
			break
		}
		run++
	}

	return run >= minRun && runDir != 0 && runDir != lastDir
}

func direction(from, to decimal.Decimal) int {
	switch {
	case to.GreaterThan(from):
		return 1
	case to.LessThan(from):
		return -1
	default:
		return 0
	}
}
