// Package settings stores per-outlet configuration blobs with a global
// fallback. Reads resolve the outlet row against the global row by picking
// whichever was saved later; writes queue the snapshot for sync in the same
// transaction.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/outbox"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// ErrValidation indicates malformed input.
var ErrValidation = errors.New("settings: validation failed")

// Snapshot is one stored settings row. OutletID zero marks the global row.
type Snapshot struct {
	Type      string
	OutletID  int64
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// ResolveNewer picks between the outlet-specific and the global snapshot:
// whichever was saved later wins. With neither present it returns a default
// snapshot carrying the given payload.
func ResolveNewer(outlet, global *Snapshot, defaultPayload json.RawMessage) Snapshot {
	switch {
	case outlet == nil && global == nil:
		return Snapshot{Payload: defaultPayload}
	case outlet == nil:
		return *global
	case global == nil:
		return *outlet
	case global.UpdatedAt.After(outlet.UpdatedAt):
		return *global
	default:
		return *outlet
	}
}

// Service reads and writes settings snapshots.
type Service struct {
	pool   *pgxpool.Pool
	writer *outbox.Writer
}

// NewService constructs the settings service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, writer: outbox.NewWriter()}
}

// Get resolves the effective snapshot for an outlet.
func (s *Service) Get(ctx context.Context, settingsType string, outletID int64, defaultPayload json.RawMessage) (Snapshot, error) {
	if settingsType == "" {
		return Snapshot{}, fmt.Errorf("%w: settings type required", ErrValidation)
	}
	outlet, err := s.fetch(ctx, settingsType, outletID)
	if err != nil {
		return Snapshot{}, err
	}
	var global *Snapshot
	if outletID != 0 {
		global, err = s.fetch(ctx, settingsType, 0)
		if err != nil {
			return Snapshot{}, err
		}
	}
	resolved := ResolveNewer(outlet, global, defaultPayload)
	if resolved.Type == "" {
		resolved.Type = settingsType
		resolved.OutletID = outletID
	}
	return resolved, nil
}

// Save upserts the snapshot and queues it for sync in the same transaction.
// The outbox key is "<type>:<outletID>" so repeated saves collapse into one
// pending record.
func (s *Service) Save(ctx context.Context, settingsType string, outletID int64, payload json.RawMessage) (Snapshot, error) {
	if settingsType == "" {
		return Snapshot{}, fmt.Errorf("%w: settings type required", ErrValidation)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return Snapshot{}, fmt.Errorf("%w: payload must be valid JSON", ErrValidation)
	}
	snapshot := Snapshot{Type: settingsType, OutletID: outletID, Payload: payload}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO settings (type, outlet_id, payload, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (type, outlet_id) DO UPDATE SET payload=EXCLUDED.payload, updated_at=NOW()
RETURNING updated_at`, settingsType, outletID, payload).Scan(&snapshot.UpdatedAt)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%d", outletID)
		return s.writer.EnqueueUpsert(ctx, tx, settingsType, key, map[string]any{
			"type":      settingsType,
			"outlet_id": outletID,
			"payload":   payload,
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func (s *Service) fetch(ctx context.Context, settingsType string, outletID int64) (*Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx, `SELECT type, outlet_id, payload, updated_at
FROM settings WHERE type=$1 AND outlet_id=$2`, settingsType, outletID).Scan(&snap.Type, &snap.OutletID, &snap.Payload, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}
