package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	insertSubmissionSQL = `INSERT INTO submissions (
        asset,
        value,
        source_kind,
        source_id,
        deviation_pct,
        is_valid,
        is_suspicious,
        submitted_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	recentAverageSQL = `SELECT
        COALESCE(AVG(value), 0),
        COUNT(*)
    FROM submissions
    WHERE asset = $1
      AND submitted_at >= $2
      AND is_valid
      AND NOT is_suspicious;`

	aggregationWindowSQL = `SELECT
        s.id,
        s.asset,
        s.value,
        s.source_kind,
        s.source_id,
        s.deviation_pct,
        s.is_valid,
        s.is_suspicious,
        s.upvotes,
        s.downvotes,
        s.submitted_at,
        COALESCE(src.trusted, FALSE)
    FROM submissions s
    LEFT JOIN sources src ON src.id = s.source_id
    WHERE s.asset = $1
      AND s.submitted_at >= $2
      AND s.submitted_at < $3
      AND s.is_valid
      AND NOT s.is_suspicious
      AND COALESCE(src.flagged, FALSE) = FALSE
    ORDER BY s.submitted_at;`

	judgementWindowSQL = `SELECT
        s.id,
        s.asset,
        s.value,
        s.source_kind,
        s.source_id,
        s.deviation_pct,
        s.is_valid,
        s.is_suspicious,
        s.upvotes,
        s.downvotes,
        s.submitted_at,
        COALESCE(src.trusted, FALSE)
    FROM submissions s
    LEFT JOIN sources src ON src.id = s.source_id
    WHERE s.asset = $1
      AND s.submitted_at >= $2
      AND s.submitted_at < $3
      AND s.source_id IS NOT NULL
    ORDER BY s.submitted_at;`

	range24hSQL = `SELECT
        COALESCE(MAX(value), 0),
        COALESCE(MIN(value), 0)
    FROM submissions
    WHERE asset = $1
      AND submitted_at >= $2
      AND submitted_at < $3
      AND is_valid
      AND NOT is_suspicious;`

	castVoteSQL = `INSERT INTO votes (submission_id, user_id, upvote)
    VALUES ($1,$2,$3);`

	applyVoteSQL = `UPDATE submissions
    SET upvotes   = upvotes + CASE WHEN $2 THEN 1 ELSE 0 END,
        downvotes = downvotes + CASE WHEN $2 THEN 0 ELSE 1 END
    WHERE id = $1;`

	ensureSourceSQL = `INSERT INTO sources (id, kind)
    VALUES ($1,$2)
    ON CONFLICT (id) DO NOTHING;`

	selectSourceSQL = `SELECT
        id, kind, score, total, accurate, trusted, flagged, first_seen_at, updated_at
    FROM sources
    WHERE id = $1;`

	selectSourceForUpdateSQL = `SELECT
        id, kind, score, total, accurate, trusted, flagged, first_seen_at, updated_at
    FROM sources
    WHERE id = $1
    FOR UPDATE;`

	updateSourceSQL = `UPDATE sources
    SET score = $2,
        total = $3,
        accurate = $4,
        trusted = $5,
        flagged = $6,
        updated_at = NOW()
    WHERE id = $1;`

	upsertAggregatedPriceSQL = `INSERT INTO aggregated_prices (
        asset, price, trend, high_24h, low_24h, spread,
        contributors, trusted, confidence, updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (asset) DO UPDATE
    SET price        = EXCLUDED.price,
        trend        = EXCLUDED.trend,
        high_24h     = EXCLUDED.high_24h,
        low_24h      = EXCLUDED.low_24h,
        spread       = EXCLUDED.spread,
        contributors = EXCLUDED.contributors,
        trusted      = EXCLUDED.trusted,
        confidence   = EXCLUDED.confidence,
        updated_at   = EXCLUDED.updated_at;`

	selectAggregatedPriceSQL = `SELECT
        asset, price, trend, high_24h, low_24h, spread,
        contributors, trusted, confidence, updated_at
    FROM aggregated_prices
    WHERE asset = $1;`

	insertPricePointSQL = `INSERT INTO price_points (asset, price, cycle_ts)
    VALUES ($1,$2,$3)
    ON CONFLICT (asset, cycle_ts) DO UPDATE SET price = EXCLUDED.price;`

	prunePricePointsSQL = `DELETE FROM price_points
    WHERE asset = $1
      AND cycle_ts NOT IN (
        SELECT cycle_ts FROM price_points
        WHERE asset = $1
        ORDER BY cycle_ts DESC
        LIMIT $2
      );`

	listPricePointsSQL = `SELECT asset, price, cycle_ts
    FROM (
        SELECT asset, price, cycle_ts FROM price_points
        WHERE asset = $1
        ORDER BY cycle_ts DESC
        LIMIT $2
    ) recent
    ORDER BY cycle_ts;`

	listPricePointsBetweenSQL = `SELECT asset, price, cycle_ts
    FROM price_points
    WHERE asset = $1
      AND cycle_ts >= $2
      AND cycle_ts < $3
    ORDER BY cycle_ts;`

	listActiveAlertsSQL = `SELECT
        id, owner_id, asset, type, threshold, direction, move_pct,
        window_seconds, zone_min, zone_max, patterns, active,
        last_triggered, last_cycle_ts, created_at
    FROM alerts
    WHERE active
    ORDER BY id;`

	fireAlertSQL = `UPDATE alerts
    SET last_triggered = NOW(),
        last_cycle_ts  = $2
    WHERE id = $1
      AND (last_cycle_ts IS NULL OR last_cycle_ts <> $2);`

	insertTriggerEventSQL = `INSERT INTO trigger_events (
        id, alert_id, owner_id, asset, price, reference, delta_pct, reason, cycle_ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listPendingTriggersSQL = `SELECT
        id, alert_id, owner_id, asset, price, reference, delta_pct,
        reason, cycle_ts, dispatched, created_at
    FROM trigger_events
    WHERE NOT dispatched
    ORDER BY created_at
    LIMIT $1;`

	markTriggerDispatchedSQL = `UPDATE trigger_events
    SET dispatched = TRUE
    WHERE id = $1;`

	upsertDailyReportSQL = `INSERT INTO daily_reports (
        asset, report_date, open, close, high, low, trend, volatility
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (asset, report_date) DO UPDATE
    SET open = EXCLUDED.open,
        close = EXCLUDED.close,
        high = EXCLUDED.high,
        low = EXCLUDED.low,
        trend = EXCLUDED.trend,
        volatility = EXCLUDED.volatility;`

	merchantStatsSQL = `SELECT
        COUNT(*),
        COUNT(*) FILTER (WHERE is_suspicious)
    FROM submissions
    WHERE source_id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	uniqueViolationCode = "23505"
)

// ContributingSubmission joins a submission with its source trust state
// as of the read, which is what the weighting step needs.
type ContributingSubmission struct {
	Submission
	SourceTrusted bool
}

// SubmissionStore covers intake and window reads. AggregationWindow
// returns only the submissions eligible for weighting;
// JudgementWindow additionally returns the excluded (suspicious or
// flagged-source) ones, so reputation can count them against their
// sources.
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, sub Submission) (int64, error)
	RecentAverage(ctx context.Context, asset string, since time.Time) (decimal.Decimal, int, error)
	AggregationWindow(ctx context.Context, asset string, since, until time.Time) ([]ContributingSubmission, error)
	JudgementWindow(ctx context.Context, asset string, since, until time.Time) ([]ContributingSubmission, error)
	Range24h(ctx context.Context, asset string, since, until time.Time) (high, low decimal.Decimal, err error)
}

// VoteStore records end-user votes on submissions.
type VoteStore interface {
	CastVote(ctx context.Context, submissionID int64, userID string, upvote bool) error
}

// SourceStore maintains per-source reputation rows.
type SourceStore interface {
	EnsureSource(ctx context.Context, id string, kind SourceKind) error
	GetSource(ctx context.Context, id string) (Source, error)
	UpdateSource(ctx context.Context, id string, mutate func(*Source)) (Source, error)
}

// PriceStore publishes and reads consensus prices and their history.
type PriceStore interface {
	PublishAggregatedPrice(ctx context.Context, agg AggregatedPrice, point PricePoint, historyBound int) error
	GetAggregatedPrice(ctx context.Context, asset string) (AggregatedPrice, error)
	ListPricePoints(ctx context.Context, asset string, limit int) ([]PricePoint, error)
	ListPricePointsBetween(ctx context.Context, asset string, from, to time.Time) ([]PricePoint, error)
}

// AlertStore reads active alerts and records firings.
type AlertStore interface {
	ListActiveAlerts(ctx context.Context) ([]Alert, error)
	FireAlert(ctx context.Context, alertID int64, cycleTS time.Time, event TriggerEvent) (bool, error)
}

// OutboxStore drains durable trigger events towards the notifier.
type OutboxStore interface {
	ListPendingTriggers(ctx context.Context, limit int) ([]TriggerEvent, error)
	MarkTriggerDispatched(ctx context.Context, id string) error
}

// ReportStore persists daily summaries for audit.
type ReportStore interface {
	UpsertDailyReport(ctx context.Context, report DailyReport) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all persisted state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying connection pool for maintenance tasks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AssetLockKey derives a stable advisory lock key for an asset.
func AssetLockKey(asset string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(asset))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSubmission persists a validated submission and returns its id.
func (s *Store) InsertSubmission(ctx context.Context, sub Submission) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertSubmissionSQL,
		sub.Asset,
		sub.Value.String(),
		string(sub.SourceKind),
		sub.SourceID,
		sub.DeviationPct.String(),
		sub.IsValid,
		sub.IsSuspicious,
		sub.SubmittedAt,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert submission: %w", scanErr)
	}
	return id, nil
}

// RecentAverage returns the mean of valid submissions since the cutoff
// and how many contributed to it.
func (s *Store) RecentAverage(ctx context.Context, asset string, since time.Time) (decimal.Decimal, int, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, 0, err
	}

	var avgStr string
	var count int
	if scanErr := pool.QueryRow(ctx, recentAverageSQL, asset, since).Scan(&avgStr, &count); scanErr != nil {
		return decimal.Decimal{}, 0, fmt.Errorf("recent average: %w", scanErr)
	}

	avg, convErr := decimal.NewFromString(avgStr)
	if convErr != nil {
		return decimal.Decimal{}, 0, fmt.Errorf("parse recent average: %w", convErr)
	}
	return avg, count, nil
}

// AggregationWindow lists the submissions eligible for one aggregation
// cycle: valid, not suspicious, source not flagged.
func (s *Store) AggregationWindow(ctx context.Context, asset string, since, until time.Time) ([]ContributingSubmission, error) {
	return s.queryWindow(ctx, aggregationWindowSQL, asset, since, until)
}

// JudgementWindow lists every attributed submission of the cycle
// window, including excluded ones, for reputation judgement.
func (s *Store) JudgementWindow(ctx context.Context, asset string, since, until time.Time) ([]ContributingSubmission, error) {
	return s.queryWindow(ctx, judgementWindowSQL, asset, since, until)
}

func (s *Store) queryWindow(ctx context.Context, sql, asset string, since, until time.Time) ([]ContributingSubmission, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, asset, since, until)
	if queryErr != nil {
		return nil, fmt.Errorf("submission window: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]ContributingSubmission, 0)
	for rows.Next() {
		var sub ContributingSubmission
		var valueStr, deviationStr string
		if err := rows.Scan(
			&sub.ID,
			&sub.Asset,
			&valueStr,
			&sub.SourceKind,
			&sub.SourceID,
			&deviationStr,
			&sub.IsValid,
			&sub.IsSuspicious,
			&sub.Upvotes,
			&sub.Downvotes,
			&sub.SubmittedAt,
			&sub.SourceTrusted,
		); err != nil {
			return nil, err
		}

		var convErr error
		sub.Value, convErr = decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse submission value: %w", convErr)
		}
		sub.DeviationPct, convErr = decimal.NewFromString(deviationStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse deviation pct: %w", convErr)
		}

		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// Range24h returns max/min of valid submissions in the trailing window.
func (s *Store) Range24h(ctx context.Context, asset string, since, until time.Time) (decimal.Decimal, decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	var highStr, lowStr string
	if scanErr := pool.QueryRow(ctx, range24hSQL, asset, since, until).Scan(&highStr, &lowStr); scanErr != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("24h range: %w", scanErr)
	}

	high, convErr := decimal.NewFromString(highStr)
	if convErr != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("parse 24h high: %w", convErr)
	}
	low, convErr := decimal.NewFromString(lowStr)
	if convErr != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("parse 24h low: %w", convErr)
	}
	return high, low, nil
}

// CastVote records one vote and applies it to the submission tally. A
// second vote from the same user fails with ErrDuplicateVote and leaves
// the tally untouched.
func (s *Store) CastVote(ctx context.Context, submissionID int64, userID string, upvote bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, txErr := pool.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("begin vote tx: %w", txErr)
	}
	defer tx.Rollback(ctx)

	if _, execErr := tx.Exec(ctx, castVoteSQL, submissionID, userID, upvote); execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateVote
		}
		return fmt.Errorf("cast vote: %w", execErr)
	}

	if _, execErr := tx.Exec(ctx, applyVoteSQL, submissionID, upvote); execErr != nil {
		return fmt.Errorf("apply vote: %w", execErr)
	}

	return tx.Commit(ctx)
}

// EnsureSource creates the source row on first contact.
func (s *Store) EnsureSource(ctx context.Context, id string, kind SourceKind) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, ensureSourceSQL, id, string(kind)); execErr != nil {
		return fmt.Errorf("ensure source: %w", execErr)
	}
	return nil
}

// GetSource fetches one source row.
func (s *Store) GetSource(ctx context.Context, id string) (Source, error) {
	pool, err := s.getPool()
	if err != nil {
		return Source{}, err
	}
	return scanSource(pool.QueryRow(ctx, selectSourceSQL, id))
}

// UpdateSource applies mutate to the source row under a row lock so the
// read-modify-write of the reputation counters is race free.
func (s *Store) UpdateSource(ctx context.Context, id string, mutate func(*Source)) (Source, error) {
	pool, err := s.getPool()
	if err != nil {
		return Source{}, err
	}

	tx, txErr := pool.Begin(ctx)
	if txErr != nil {
		return Source{}, fmt.Errorf("begin source tx: %w", txErr)
	}
	defer tx.Rollback(ctx)

	src, scanErr := scanSource(tx.QueryRow(ctx, selectSourceForUpdateSQL, id))
	if scanErr != nil {
		return Source{}, scanErr
	}

	mutate(&src)

	if _, execErr := tx.Exec(ctx, updateSourceSQL,
		src.ID,
		src.Score.String(),
		src.Total,
		src.Accurate,
		src.Trusted,
		src.Flagged,
	); execErr != nil {
		return Source{}, fmt.Errorf("update source: %w", execErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return Source{}, commitErr
	}
	return src, nil
}

// PublishAggregatedPrice writes the live consensus row, appends the
// history point, and prunes history beyond the bound, in one
// transaction so readers never observe a half-written cycle.
func (s *Store) PublishAggregatedPrice(ctx context.Context, agg AggregatedPrice, point PricePoint, historyBound int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, txErr := pool.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("begin publish tx: %w", txErr)
	}
	defer tx.Rollback(ctx)

	if _, execErr := tx.Exec(ctx, upsertAggregatedPriceSQL,
		agg.Asset,
		agg.Price.String(),
		string(agg.Trend),
		agg.High24h.String(),
		agg.Low24h.String(),
		agg.Spread.String(),
		agg.Contributors,
		agg.Trusted,
		string(agg.Confidence),
		agg.UpdatedAt,
	); execErr != nil {
		return fmt.Errorf("upsert aggregated price: %w", execErr)
	}

	if _, execErr := tx.Exec(ctx, insertPricePointSQL, point.Asset, point.Price.String(), point.CycleTS); execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}

	if historyBound > 0 {
		if _, execErr := tx.Exec(ctx, prunePricePointsSQL, point.Asset, historyBound); execErr != nil {
			return fmt.Errorf("prune price points: %w", execErr)
		}
	}

	return tx.Commit(ctx)
}

// GetAggregatedPrice reads the live consensus row for one asset.
func (s *Store) GetAggregatedPrice(ctx context.Context, asset string) (AggregatedPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return AggregatedPrice{}, err
	}

	var agg AggregatedPrice
	var priceStr, highStr, lowStr, spreadStr string
	scanErr := pool.QueryRow(ctx, selectAggregatedPriceSQL, asset).Scan(
		&agg.Asset,
		&priceStr,
		&agg.Trend,
		&highStr,
		&lowStr,
		&spreadStr,
		&agg.Contributors,
		&agg.Trusted,
		&agg.Confidence,
		&agg.UpdatedAt,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return AggregatedPrice{}, pgx.ErrNoRows
		}
		return AggregatedPrice{}, fmt.Errorf("get aggregated price: %w", scanErr)
	}

	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&agg.Price, priceStr},
		{&agg.High24h, highStr},
		{&agg.Low24h, lowStr},
		{&agg.Spread, spreadStr},
	} {
		val, convErr := decimal.NewFromString(pair.src)
		if convErr != nil {
			return AggregatedPrice{}, fmt.Errorf("parse aggregated price fields: %w", convErr)
		}
		*pair.dst = val
	}
	return agg, nil
}

// ListPricePoints returns up to limit most recent points, oldest first.
func (s *Store) ListPricePoints(ctx context.Context, asset string, limit int) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// ListPricePointsBetween lists history points within a time window.
func (s *Store) ListPricePointsBetween(ctx context.Context, asset string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points between: %w", queryErr)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// ListActiveAlerts returns every active alert rule.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// FireAlert marks the alert triggered for the cycle and records the
// outbox event in one transaction. Returns false without emitting when
// another evaluator already fired this alert for the same cycle.
func (s *Store) FireAlert(ctx context.Context, alertID int64, cycleTS time.Time, event TriggerEvent) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tx, txErr := pool.Begin(ctx)
	if txErr != nil {
		return false, fmt.Errorf("begin fire tx: %w", txErr)
	}
	defer tx.Rollback(ctx)

	tag, execErr := tx.Exec(ctx, fireAlertSQL, alertID, cycleTS)
	if execErr != nil {
		return false, fmt.Errorf("mark alert triggered: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, execErr := tx.Exec(ctx, insertTriggerEventSQL,
		event.ID,
		event.AlertID,
		event.OwnerID,
		event.Asset,
		event.Price.String(),
		event.Reference.String(),
		event.DeltaPct.String(),
		event.Reason,
		event.CycleTS,
	); execErr != nil {
		return false, fmt.Errorf("insert trigger event: %w", execErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return false, commitErr
	}
	return true, nil
}

// ListPendingTriggers lists undelivered outbox events, oldest first.
func (s *Store) ListPendingTriggers(ctx context.Context, limit int) ([]TriggerEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending triggers: %w", queryErr)
	}
	defer rows.Close()

	events := make([]TriggerEvent, 0, limit)
	for rows.Next() {
		var ev TriggerEvent
		var priceStr, refStr, deltaStr string
		if err := rows.Scan(
			&ev.ID,
			&ev.AlertID,
			&ev.OwnerID,
			&ev.Asset,
			&priceStr,
			&refStr,
			&deltaStr,
			&ev.Reason,
			&ev.CycleTS,
			&ev.Dispatched,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if ev.Price, convErr = decimal.NewFromString(priceStr); convErr != nil {
			return nil, fmt.Errorf("parse trigger price: %w", convErr)
		}
		if ev.Reference, convErr = decimal.NewFromString(refStr); convErr != nil {
			return nil, fmt.Errorf("parse trigger reference: %w", convErr)
		}
		if ev.DeltaPct, convErr = decimal.NewFromString(deltaStr); convErr != nil {
			return nil, fmt.Errorf("parse trigger delta: %w", convErr)
		}

		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// MarkTriggerDispatched records delivery of one outbox event.
func (s *Store) MarkTriggerDispatched(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markTriggerDispatchedSQL, id); execErr != nil {
		return fmt.Errorf("mark trigger dispatched: %w", execErr)
	}
	return nil
}

// UpsertDailyReport persists a daily summary.
func (s *Store) UpsertDailyReport(ctx context.Context, report DailyReport) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertDailyReportSQL,
		report.Asset,
		report.Date,
		report.Open.String(),
		report.Close.String(),
		report.High.String(),
		report.Low.String(),
		string(report.Trend),
		report.Volatility.String(),
	); execErr != nil {
		return fmt.Errorf("upsert daily report: %w", execErr)
	}
	return nil
}

// GetMerchantStats returns the reputation snapshot for one source.
func (s *Store) GetMerchantStats(ctx context.Context, sourceID string) (MerchantStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return MerchantStats{}, err
	}

	src, srcErr := s.GetSource(ctx, sourceID)
	if srcErr != nil {
		return MerchantStats{}, srcErr
	}

	var stats MerchantStats
	stats.Source = src
	if scanErr := pool.QueryRow(ctx, merchantStatsSQL, sourceID).Scan(&stats.Submissions, &stats.Suspicious); scanErr != nil {
		return MerchantStats{}, fmt.Errorf("merchant stats: %w", scanErr)
	}
	return stats, nil
}

func scanSource(row pgx.Row) (Source, error) {
	var src Source
	var scoreStr string
	if err := row.Scan(
		&src.ID,
		&src.Kind,
		&scoreStr,
		&src.Total,
		&src.Accurate,
		&src.Trusted,
		&src.Flagged,
		&src.FirstSeenAt,
		&src.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Source{}, pgx.ErrNoRows
		}
		return Source{}, fmt.Errorf("scan source: %w", err)
	}

	score, convErr := decimal.NewFromString(scoreStr)
	if convErr != nil {
		return Source{}, fmt.Errorf("parse source score: %w", convErr)
	}
	src.Score = score
	return src, nil
}

func scanPricePoints(rows pgx.Rows) ([]PricePoint, error) {
	points := make([]PricePoint, 0)
	for rows.Next() {
		var point PricePoint
		var priceStr string
		if err := rows.Scan(&point.Asset, &priceStr, &point.CycleTS); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price point: %w", convErr)
		}
		point.Price = price
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

func scanAlert(rows pgx.Rows) (Alert, error) {
	var alert Alert
	var thresholdStr, directionStr, moveStr, zoneMinStr, zoneMaxStr *string
	var windowSeconds *int64
	var patterns []string

	if err := rows.Scan(
		&alert.ID,
		&alert.OwnerID,
		&alert.Asset,
		&alert.Type,
		&thresholdStr,
		&directionStr,
		&moveStr,
		&windowSeconds,
		&zoneMinStr,
		&zoneMaxStr,
		&patterns,
		&alert.Active,
		&alert.LastTriggered,
		&alert.LastCycleTS,
		&alert.CreatedAt,
	); err != nil {
		return Alert{}, err
	}

	alert.Direction = directionStr
	alert.Patterns = patterns
	if windowSeconds != nil {
		window := time.Duration(*windowSeconds) * time.Second
		alert.Window = &window
	}

	for _, pair := range []struct {
		dst **decimal.Decimal
		src *string
	}{
		{&alert.Threshold, thresholdStr},
		{&alert.MovePct, moveStr},
		{&alert.ZoneMin, zoneMinStr},
		{&alert.ZoneMax, zoneMaxStr},
	} {
		if pair.src == nil {
			continue
		}
		val, convErr := decimal.NewFromString(*pair.src)
		if convErr != nil {
			return Alert{}, fmt.Errorf("parse alert parameter: %w", convErr)
		}
		*pair.dst = &val
	}

	return alert, nil
}
