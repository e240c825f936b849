// Package aggregate reduces valid recent submissions into one consensus
// price per asset with confidence and dispersion metrics.
package aggregate

import (
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Weights parameterise the contribution of each submission.
type Weights struct {
	Trusted   decimal.Decimal
	Upvoted   decimal.Decimal
	UpvoteMin int
}

// DefaultWeights mirror the production weighting rules.
func DefaultWeights() Weights {
	return Weights{
		Trusted:   decimal.NewFromInt(2),
		Upvoted:   decimal.NewFromFloat(1.5),
		UpvoteMin: 10,
	}
}

// Consensus is the outcome of one weighted reduction.
type Consensus struct {
	Price        decimal.Decimal
	Spread       decimal.Decimal
	Contributors int
	Trusted      int
	Confidence   storage.Confidence
	Empty        bool
}

// SubmissionWeight computes the multiplicative weight of one submission:
// base 1.0, trusted source x2.0, >UpvoteMin upvotes x1.5.
func SubmissionWeight(sub storage.ContributingSubmission, w Weights) decimal.Decimal {
	weight := decimal.NewFromInt(1)
	if sub.SourceTrusted {
		weight = weight.Mul(w.Trusted)
	}
	if sub.Upvotes > w.UpvoteMin {
		weight = weight.Mul(w.Upvoted)
	}
	return weight
}

// Compute reduces the selected submission set to a weighted consensus.
// An empty set yields Empty=true; the caller retains the previous price
// and forces confidence low.
func Compute(subs []storage.ContributingSubmission, w Weights, minContributors int) Consensus {
	if len(subs) == 0 {
		return Consensus{Confidence: storage.ConfidenceLow, Empty: true}
	}

	weightedSum := decimal.Zero
	totalWeight := decimal.Zero
	trusted := 0
	min := subs[0].Value
	max := subs[0].Value

	for _, sub := range subs {
		weight := SubmissionWeight(sub, w)
		weightedSum = weightedSum.Add(sub.Value.Mul(weight))
		totalWeight = totalWeight.Add(weight)
		if sub.SourceTrusted {
			trusted++
		}
		if sub.Value.LessThan(min) {
			min = sub.Value
		}
		if sub.Value.GreaterThan(max) {
			max = sub.Value
		}
	}

	consensus := Consensus{
		Price:        weightedSum.Div(totalWeight),
		Spread:       max.Sub(min),
		Contributors: len(subs),
		Trusted:      trusted,
	}

	switch {
	case consensus.Contributors < minContributors:
		consensus.Confidence = storage.ConfidenceLow
	case trusted == 0:
		consensus.Confidence = storage.ConfidenceMedium
	default:
		consensus.Confidence = storage.ConfidenceHigh
	}
	return consensus
}

// TrendLabel compares this cycle's price to the previous one. Moves
// within epsilonPct either way count as stable.
func TrendLabel(current, previous decimal.Decimal, epsilonPct decimal.Decimal) storage.TrendLabel {
	if previous.IsZero() {
		return storage.TrendStable
	}
	change := current.Sub(previous).Div(previous).Mul(hundred)
	switch {
	case change.GreaterThan(epsilonPct):
		return storage.TrendUp
	case change.LessThan(epsilonPct.Neg()):
		return storage.TrendDown
	default:
		return storage.TrendStable
	}
}
