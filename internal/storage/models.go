package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind identifies who produced a submission.
type SourceKind string

const (
	SourceMerchant SourceKind = "merchant"
	SourceAPI      SourceKind = "api"
	SourceUser     SourceKind = "user"
)

// Confidence labels the reliability of an aggregated price.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// TrendLabel is the coarse cycle-over-cycle direction indicator.
type TrendLabel string

const (
	TrendUp     TrendLabel = "up"
	TrendDown   TrendLabel = "down"
	TrendStable TrendLabel = "stable"
)

// Submission is one persisted price observation with provenance.
type Submission struct {
	ID           int64
	Asset        string
	Value        decimal.Decimal
	SourceKind   SourceKind
	SourceID     *string
	DeviationPct decimal.Decimal
	IsValid      bool
	IsSuspicious bool
	Upvotes      int
	Downvotes    int
	SubmittedAt  time.Time
	CreatedAt    time.Time
}

// Source is a contributing actor with its accuracy track record.
type Source struct {
	ID          string
	Kind        SourceKind
	Score       decimal.Decimal
	Total       int64
	Accurate    int64
	Trusted     bool
	Flagged     bool
	FirstSeenAt time.Time
	UpdatedAt   time.Time
}

// AggregatedPrice is the live consensus row for one asset.
type AggregatedPrice struct {
	Asset        string
	Price        decimal.Decimal
	Trend        TrendLabel
	High24h      decimal.Decimal
	Low24h       decimal.Decimal
	Spread       decimal.Decimal
	Contributors int
	Trusted      int
	Confidence   Confidence
	UpdatedAt    time.Time
}

// PricePoint is one retained history entry for trend analysis.
type PricePoint struct {
	Asset   string
	Price   decimal.Decimal
	CycleTS time.Time
}

// AlertType discriminates the rule parameter shape.
type AlertType string

const (
	AlertThreshold AlertType = "threshold"
	AlertMovement  AlertType = "movement"
	AlertZone      AlertType = "zone"
	AlertTrend     AlertType = "trend"
)

// Alert is a user-owned rule evaluated each cycle while active.
// Parameter columns form a validated union: exactly the columns for the
// alert's type are populated, the rest stay NULL.
type Alert struct {
	ID        int64
	OwnerID   string
	Asset     string
	Type      AlertType
	Threshold *decimal.Decimal
	Direction *string // "above" | "below" for threshold alerts
	MovePct   *decimal.Decimal
	Window    *time.Duration
	ZoneMin   *decimal.Decimal
	ZoneMax   *decimal.Decimal
	Patterns  []string
	Active    bool
	// LastTriggered drives debounce. LastCycleTS is the idempotence
	// guard against concurrent evaluators firing the same cycle twice.
	LastTriggered *time.Time
	LastCycleTS   *time.Time
	CreatedAt     time.Time
}

// TriggerEvent is a durable outbox record of one alert firing.
type TriggerEvent struct {
	ID         string
	AlertID    int64
	OwnerID    string
	Asset      string
	Price      decimal.Decimal
	Reference  decimal.Decimal
	DeltaPct   decimal.Decimal
	Reason     string
	CycleTS    time.Time
	Dispatched bool
	CreatedAt  time.Time
}

// DailyReport captures one day's summary for an asset.
type DailyReport struct {
	Asset      string
	Date       time.Time
	Open       decimal.Decimal
	Close      decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Trend      TrendLabel
	Volatility decimal.Decimal
	CreatedAt  time.Time
}

// MerchantStats is the reputation snapshot served by the query surface.
type MerchantStats struct {
	Source      Source
	Submissions int64
	Suspicious  int64
}
