package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-consensus/internal/storage"
	"price-consensus/internal/validator"
)

type fakeStore struct {
	avg        decimal.Decimal
	avgCount   int
	avgErrs    []error
	inserted   []storage.Submission
	insertErrs []error
	sources    map[string]storage.SourceKind
	votes      map[string]bool
	voteErrs   []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources: make(map[string]storage.SourceKind),
		votes:   make(map[string]bool),
	}
}

func (f *fakeStore) popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeStore) RecentAverage(ctx context.Context, asset string, since time.Time) (decimal.Decimal, int, error) {
	if err := f.popErr(&f.avgErrs); err != nil {
		return decimal.Decimal{}, 0, err
	}
	return f.avg, f.avgCount, nil
}

func (f *fakeStore) InsertSubmission(ctx context.Context, sub storage.Submission) (int64, error) {
	if err := f.popErr(&f.insertErrs); err != nil {
		return 0, err
	}
	f.inserted = append(f.inserted, sub)
	return int64(len(f.inserted)), nil
}

func (f *fakeStore) AggregationWindow(ctx context.Context, asset string, since, until time.Time) ([]storage.ContributingSubmission, error) {
	return nil, nil
}

func (f *fakeStore) JudgementWindow(ctx context.Context, asset string, since, until time.Time) ([]storage.ContributingSubmission, error) {
	return nil, nil
}

func (f *fakeStore) Range24h(ctx context.Context, asset string, since, until time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}

func (f *fakeStore) EnsureSource(ctx context.Context, id string, kind storage.SourceKind) error {
	f.sources[id] = kind
	return nil
}

func (f *fakeStore) GetSource(ctx context.Context, id string) (storage.Source, error) {
	return storage.Source{ID: id}, nil
}

func (f *fakeStore) UpdateSource(ctx context.Context, id string, mutate func(*storage.Source)) (storage.Source, error) {
	return storage.Source{ID: id}, nil
}

func (f *fakeStore) CastVote(ctx context.Context, submissionID int64, userID string, upvote bool) error {
	if err := f.popErr(&f.voteErrs); err != nil {
		return err
	}
	key := userID
	if f.votes[key] {
		return storage.ErrDuplicateVote
	}
	f.votes[key] = true
	return nil
}

func newTestService(store *fakeStore) *Service {
	v := validator.New(10.0, []string{"usd", "gold", "btc"})
	return New(store, v, 600*time.Second, zerolog.Nop())
}

func TestSubmitAccepted(t *testing.T) {
	store := newFakeStore()
	store.avg = decimal.NewFromInt(100)
	store.avgCount = 4
	svc := newTestService(store)

	merchant := "merchant-1"
	receipt, err := svc.Submit(context.Background(), "USD", decimal.NewFromInt(104), storage.SourceMerchant, &merchant)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !receipt.Accepted || receipt.IsSuspicious {
		t.Fatalf("expected clean acceptance, got %+v", receipt)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one persisted submission, got %d", len(store.inserted))
	}

	sub := store.inserted[0]
	if sub.Asset != "usd" {
		t.Fatalf("asset not normalised: %q", sub.Asset)
	}
	if !sub.IsValid || sub.IsSuspicious {
		t.Fatalf("submission flags wrong: %+v", sub)
	}
	if _, ok := store.sources[merchant]; !ok {
		t.Fatal("source row should be created on first submission")
	}
}

func TestSubmitSuspiciousStillPersisted(t *testing.T) {
	store := newFakeStore()
	store.avg = decimal.NewFromInt(100)
	store.avgCount = 4
	svc := newTestService(store)

	receipt, err := svc.Submit(context.Background(), "usd", decimal.NewFromInt(120), storage.SourceUser, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !receipt.IsSuspicious {
		t.Fatal("20% deviation must be suspicious")
	}
	if len(store.inserted) != 1 {
		t.Fatal("suspicious submissions are persisted, just excluded from aggregation")
	}
	if store.inserted[0].IsValid {
		t.Fatal("suspicious submissions are never valid for aggregation")
	}
}

func TestSubmitInvalidNeverPersisted(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	_, err := svc.Submit(context.Background(), "usd", decimal.Zero, storage.SourceUser, nil)
	if !errors.Is(err, validator.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatal("invalid submissions must never be persisted")
	}
}

func TestSubmitRetriesTransientStoreError(t *testing.T) {
	store := newFakeStore()
	store.avgCount = 0
	store.avgErrs = []error{errors.New("connection reset")}
	svc := newTestService(store)

	receipt, err := svc.Submit(context.Background(), "gold", decimal.NewFromInt(2400), storage.SourceAPI, nil)
	if err != nil {
		t.Fatalf("transient error should be retried once, got %v", err)
	}
	if !receipt.Accepted {
		t.Fatal("expected acceptance after retry")
	}
}

func TestCastVoteDuplicate(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if err := svc.CastVote(ctx, 1, "voter", true); err != nil {
		t.Fatalf("first vote should succeed: %v", err)
	}
	if err := svc.CastVote(ctx, 1, "voter", true); !errors.Is(err, storage.ErrDuplicateVote) {
		t.Fatalf("second vote should be rejected as duplicate, got %v", err)
	}
}

func TestCastVoteRetriesOnce(t *testing.T) {
	store := newFakeStore()
	store.voteErrs = []error{errors.New("connection reset")}
	svc := newTestService(store)

	if err := svc.CastVote(context.Background(), 1, "voter", false); err != nil {
		t.Fatalf("transient vote error should be retried, got %v", err)
	}
}
