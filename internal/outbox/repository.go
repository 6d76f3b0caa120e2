package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound indicates the record does not exist or is not in the
// expected state for the transition.
var ErrRecordNotFound = errors.New("outbox: record not found")

// Store exposes the consumer-facing operations on outbox records. Status
// transitions are enforced in the statements themselves so a racing
// dispatcher cannot double-advance a record.
type Store interface {
	ListPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkAcknowledged(ctx context.Context, id uuid.UUID) error
	ResetPending(ctx context.Context, id uuid.UUID) error
	PurgeAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error)
}

type store struct {
	pool *pgxpool.Pool
}

// NewStore builds the pool-backed store.
func NewStore(pool *pgxpool.Pool) Store {
	return &store{pool: pool}
}

func (s *store) ListPending(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, entity_type, entity_key, payload, status, attempts, position, created_at, updated_at
FROM outbox_records WHERE status='PENDING' ORDER BY position ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityKey, &rec.Payload, &rec.Status, &rec.Attempts, &rec.Position, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *store) MarkSent(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusPending, StatusSent, true)
}

func (s *store) MarkAcknowledged(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusSent, StatusAcknowledged, false)
}

// ResetPending hands a SENT record back for retry after a transport failure.
func (s *store) ResetPending(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusSent, StatusPending, false)
}

func (s *store) transition(ctx context.Context, id uuid.UUID, from, to Status, countAttempt bool) error {
	query := `UPDATE outbox_records SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`
	if countAttempt {
		query = `UPDATE outbox_records SET status=$3, attempts=attempts+1, updated_at=NOW() WHERE id=$1 AND status=$2`
	}
	tag, err := s.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *store) PurgeAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox_records WHERE status='ACKNOWLEDGED' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
