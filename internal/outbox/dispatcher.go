package outbox

import (
	"context"
	"log/slog"
)

// Transport ships a record's payload to a sync peer. The wire protocol is
// owned by the deployment; the dispatcher only cares whether delivery was
// confirmed.
type Transport interface {
	Send(ctx context.Context, record Record) error
}

// Dispatcher drains pending records through the transport. Delivery is
// at-least-once: a record is marked SENT before transmission, ACKNOWLEDGED
// on confirmation, and reset to PENDING when the transport fails so a later
// run retries it.
type Dispatcher struct {
	store     Store
	transport Transport
	logger    *slog.Logger
	batchSize int
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(store Store, transport Transport, logger *slog.Logger, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{store: store, transport: transport, logger: logger, batchSize: batchSize}
}

// Run processes one batch of pending records and reports how many were
// acknowledged. Transport failures are logged, not returned: the records sit
// in PENDING again and the next run retries them.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	records, err := d.store.ListPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := d.store.MarkSent(ctx, record.ID); err != nil {
			if err == ErrRecordNotFound {
				// Another dispatcher claimed it.
				continue
			}
			return delivered, err
		}
		if err := d.transport.Send(ctx, record); err != nil {
			d.logger.Warn("outbox transport failure",
				slog.String("entity_type", record.EntityType),
				slog.String("entity_key", record.EntityKey),
				slog.Any("error", err))
			if resetErr := d.store.ResetPending(ctx, record.ID); resetErr != nil {
				return delivered, resetErr
			}
			continue
		}
		if err := d.store.MarkAcknowledged(ctx, record.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
