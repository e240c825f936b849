// Package intake is the submission boundary: it validates raw price
// observations, persists the accepted ones, and records votes.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/metrics"
	"price-consensus/internal/storage"
	"price-consensus/internal/validator"
)

const retryBackoff = 200 * time.Millisecond

// Store is the persistence surface intake needs.
type Store interface {
	storage.SubmissionStore
	storage.SourceStore
	storage.VoteStore
}

// Receipt is returned to the submitter.
type Receipt struct {
	SubmissionID int64
	Accepted     bool
	IsSuspicious bool
	DeviationPct decimal.Decimal
}

// Service accepts submissions and votes.
type Service struct {
	store        Store
	validator    *validator.Validator
	recentWindow time.Duration
	logger       zerolog.Logger
}

// New constructs the intake service.
func New(store Store, v *validator.Validator, recentWindow time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		validator:    v,
		recentWindow: recentWindow,
		logger:       logger.With().Str("component", "intake").Logger(),
	}
}

// Submit validates and persists one observation. Validation failures
// are never retried and never persisted; transient store failures are
// retried once before surfacing.
func (s *Service) Submit(ctx context.Context, asset string, value decimal.Decimal, kind storage.SourceKind, sourceID *string) (Receipt, error) {
	asset = strings.ToLower(strings.TrimSpace(asset))
	now := time.Now().UTC()

	var avg decimal.Decimal
	var count int
	err := storage.WithRetry(ctx, retryBackoff, func(ctx context.Context) error {
		var opErr error
		avg, count, opErr = s.store.RecentAverage(ctx, asset, now.Add(-s.recentWindow))
		return opErr
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("read recent average: %w", err)
	}

	result, valErr := s.validator.Validate(asset, value, avg, count > 0)
	if valErr != nil {
		metrics.RecordSubmission(asset, "rejected")
		return Receipt{}, valErr
	}

	if sourceID != nil {
		if ensureErr := storage.WithRetry(ctx, retryBackoff, func(ctx context.Context) error {
			return s.store.EnsureSource(ctx, *sourceID, kind)
		}); ensureErr != nil {
			return Receipt{}, fmt.Errorf("ensure source: %w", ensureErr)
		}
	}

	sub := storage.Submission{
		Asset:        asset,
		Value:        value,
		SourceKind:   kind,
		SourceID:     sourceID,
		DeviationPct: result.DeviationPct,
		IsValid:      !result.IsSuspicious,
		IsSuspicious: result.IsSuspicious,
		SubmittedAt:  now,
	}

	var id int64
	if insertErr := storage.WithRetry(ctx, retryBackoff, func(ctx context.Context) error {
		var opErr error
		id, opErr = s.store.InsertSubmission(ctx, sub)
		return opErr
	}); insertErr != nil {
		return Receipt{}, fmt.Errorf("persist submission: %w", insertErr)
	}

	outcome := "accepted"
	if result.IsSuspicious {
		outcome = "suspicious"
	}
	metrics.RecordSubmission(asset, outcome)

	s.logger.Debug().
		Str("asset", asset).
		Str("value", value.String()).
		Str("kind", string(kind)).
		Bool("suspicious", result.IsSuspicious).
		Msg("submission recorded")

	return Receipt{
		SubmissionID: id,
		Accepted:     true,
		IsSuspicious: result.IsSuspicious,
		DeviationPct: result.DeviationPct,
	}, nil
}

// CastVote applies one user vote to a submission. A repeated vote fails
// with storage.ErrDuplicateVote and leaves the original tally intact.
func (s *Service) CastVote(ctx context.Context, submissionID int64, userID string, upvote bool) error {
	if userID == "" {
		return fmt.Errorf("%w: voter id required", validator.ErrInvalidFormat)
	}

	err := s.store.CastVote(ctx, submissionID, userID, upvote)
	if err == nil || errors.Is(err, storage.ErrDuplicateVote) {
		return err
	}

	// One retry for transient store trouble; duplicates never retry.
	timer := time.NewTimer(retryBackoff)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}
	return s.store.CastVote(ctx, submissionID, userID, upvote)
}
