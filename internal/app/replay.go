package app

import (
	"context"
	"errors"
	"time"
)

// Replay recomputes consensus for historical cycles from the stored
// submissions. Useful after tuning aggregation weights or repairing
// bad data: the live row ends at the newest replayed cycle.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	interval := a.Config.Scheduler.Interval
	start := alignForward(opts.From.UTC(), interval)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("replay range is empty; check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	aggregator := a.newAggregator(store)

	processed := 0
	failed := 0
	for cycle := start; cycle.Before(end); cycle = cycle.Add(interval) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, asset := range a.Config.Assets {
			if _, err := aggregator.RunAsset(ctx, asset, cycle); err != nil {
				failed++
				a.Logger.Error().Err(err).Str("asset", asset).Time("cycle", cycle).Msg("replay cycle failed")
				continue
			}
			processed++
		}
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("replay finished")
	if failed > 0 {
		return errors.New("some cycles failed to replay; check logs")
	}
	return nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		truncated = truncated.Add(interval)
	}
	return truncated
}
