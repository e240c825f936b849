// Package fetcher pulls prices from external apis and feeds them into
// submission intake as api-kind observations.
package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrSourceUnavailable indicates an external fetch failed; the caller
// logs it and the interval simply produces no submission.
var ErrSourceUnavailable = errors.New("fetcher: source unavailable")

// Quote is one fetched observation, ready for intake.
type Quote struct {
	Asset  string
	Value  decimal.Decimal
	Source string
}

// Fetcher retrieves quotes for its configured assets.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]Quote, error)
}
