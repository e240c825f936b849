package alerting

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"price-consensus/internal/metrics"
	"price-consensus/internal/storage"
)

// Dispatcher drains the durable outbox towards the notifier. Alert
// evaluation never blocks on delivery; this loop runs on its own
// cadence and retries pending events on the next pass.
type Dispatcher struct {
	store    storage.OutboxStore
	notifier Notifier
	batch    int
	logger   zerolog.Logger
}

// NewDispatcher constructs an outbox dispatcher.
func NewDispatcher(store storage.OutboxStore, notifier Notifier, batch int, logger zerolog.Logger) *Dispatcher {
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		batch:    batch,
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// DispatchPending delivers undispatched trigger events. A delivery
// failure leaves the event pending for the next pass.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	events, err := d.store.ListPendingTriggers(ctx, d.batch)
	if err != nil {
		return fmt.Errorf("list pending triggers: %w", err)
	}

	for _, event := range events {
		if d.notifier != nil {
			if notifyErr := d.notifier.NotifyTrigger(ctx, event); notifyErr != nil {
				metrics.RecordDispatch("failed")
				d.logger.Error().Err(notifyErr).Str("event", event.ID).Msg("delivery failed; will retry")
				continue
			}
		}

		if markErr := d.store.MarkTriggerDispatched(ctx, event.ID); markErr != nil {
			metrics.RecordDispatch("mark_failed")
			d.logger.Error().Err(markErr).Str("event", event.ID).Msg("failed to mark dispatched")
			continue
		}
		metrics.RecordDispatch("delivered")
	}

	return nil
}
