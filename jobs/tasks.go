// Package jobs hosts the background task definitions and the Asynq worker
// wrapper. Outbox dispatch and retention, plus the ledger integrity scan,
// run here on cron schedules.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/observability"
	"github.com/meridian-pos/meridian-pos/internal/outbox"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOutboxDispatch drains pending outbox records to the sync peer.
	TaskOutboxDispatch = "sync:outbox_dispatch"
	// TaskOutboxPurge deletes acknowledged outbox records past retention.
	TaskOutboxPurge = "sync:outbox_purge"
	// TaskLedgerIntegrityScan recomputes per-batch debit/credit balance.
	TaskLedgerIntegrityScan = "ledger:integrity_scan"
)

// OutboxPurgePayload controls the retention window of a purge run.
type OutboxPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewOutboxDispatchTask constructs the dispatch task.
func NewOutboxDispatchTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxDispatch, nil)
}

// NewOutboxPurgeTask constructs the purge task.
func NewOutboxPurgeTask(payload OutboxPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxPurge, data), nil
}

// NewLedgerIntegrityScanTask constructs the integrity scan task.
func NewLedgerIntegrityScanTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrityScan, nil)
}

// NewOutboxDispatchHandler processes TaskOutboxDispatch tasks.
func NewOutboxDispatchHandler(dispatcher *outbox.Dispatcher, logger *slog.Logger, metrics *observability.PostingMetrics) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		delivered, err := dispatcher.Run(ctx)
		if err != nil {
			return err
		}
		if metrics != nil && delivered > 0 {
			metrics.ObserveOutboxDelivered(delivered)
		}
		if delivered > 0 {
			logger.Info("outbox dispatch", slog.Int("delivered", delivered))
		}
		return nil
	}
}

// NewOutboxPurgeHandler processes TaskOutboxPurge tasks. The same run also
// trims expired idempotency keys when a store is provided.
func NewOutboxPurgeHandler(store outbox.Store, idem *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		payload := OutboxPurgePayload{RetentionHours: 72}
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		retention := time.Duration(payload.RetentionHours) * time.Hour
		purged, err := store.PurgeAcknowledged(ctx, retention)
		if err != nil {
			return err
		}
		if err := idem.Cleanup(ctx, retention); err != nil {
			logger.Warn("idempotency cleanup", slog.Any("error", err))
		}
		if purged > 0 {
			logger.Info("outbox purge", slog.Int64("purged", purged))
		}
		return nil
	}
}
