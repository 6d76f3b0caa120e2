package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Writer enqueues change-notifications inside the caller's transaction.
// Callers must not invoke it outside an active unit of work: the enqueue has
// to commit or roll back together with the domain write it documents.
type Writer struct{}

// NewWriter constructs the writer.
func NewWriter() *Writer {
	return &Writer{}
}

// EnqueueUpsert queues "this entity changed" for downstream sync. While a
// record for (entityType, naturalKey) is still PENDING the call replaces its
// payload in place, so a burst of changes to the same entity yields one
// record carrying the latest state. Once the record moved to SENT a fresh
// PENDING record is inserted instead of touching the in-flight one.
//
// The statements never raise a unique violation: an error inside the caller's
// transaction would abort it and take the whole domain write down with the
// enqueue.
func (w *Writer) EnqueueUpsert(ctx context.Context, dbtx db.DBTX, entityType, naturalKey string, payload any) error {
	if entityType == "" || naturalKey == "" {
		return errors.New("outbox: entity type and key required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	tag, err := dbtx.Exec(ctx, `UPDATE outbox_records
SET payload=$3, updated_at=NOW()
WHERE entity_type=$1 AND entity_key=$2 AND status='PENDING'`, entityType, naturalKey, data)
	if err != nil {
		return fmt.Errorf("outbox: update pending record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// First change since the last dispatch: claim the deterministic id. The
	// id is already taken when a SENT or ACKNOWLEDGED record owns it, in
	// which case the new change gets its own record.
	tag, err = dbtx.Exec(ctx, `INSERT INTO outbox_records (id, entity_type, entity_key, payload, status)
VALUES ($1,$2,$3,$4,'PENDING')
ON CONFLICT (id) DO NOTHING`, DeterministicID(entityType, naturalKey), entityType, naturalKey, data)
	if err != nil {
		return fmt.Errorf("outbox: insert record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = dbtx.Exec(ctx, `INSERT INTO outbox_records (id, entity_type, entity_key, payload, status)
VALUES ($1,$2,$3,$4,'PENDING')`, uuid.New(), entityType, naturalKey, data)
	if err != nil {
		return fmt.Errorf("outbox: insert record: %w", err)
	}
	return nil
}
