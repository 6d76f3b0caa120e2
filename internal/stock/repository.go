package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Repository encapsulates document persistence and the on-hand projection.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (Document, error)
	GetLines(ctx context.Context, docID int64) ([]Line, error)
	OnHand(ctx context.Context, itemID, locationID int64, asOf time.Time) (float64, error)
}

// TxRepository exposes the writes available inside one transaction.
type TxRepository interface {
	InsertDocument(ctx context.Context, d Document) (int64, error)
	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	GetLines(ctx context.Context, docID int64) ([]Line, error)
	ReplaceLines(ctx context.Context, docID int64, lines []Line) error
	SetLockedQty(ctx context.Context, docID int64) error
	ClearLockedQty(ctx context.Context, docID int64) error
	UpdateLock(ctx context.Context, docID int64, locked bool, lockedValue float64) error
	InsertMoves(ctx context.Context, moves []Move) error
	UnitOfWork() posting.UnitOfWork
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const documentColumns = `id, public_id, number, outlet_id, warehouse_id, locked, locked_value, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.PublicID, &d.Number, &d.OutletID, &d.WarehouseID, &d.Locked, &d.LockedValue, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return d, nil
}

func (r *repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM stock_documents WHERE id=$1`, id))
}

func (r *repository) GetLines(ctx context.Context, docID int64) ([]Line, error) {
	return queryLines(ctx, r.pool, docID)
}

// OnHand sums signed quantity changes before the cutoff. Negative sums from
// data anomalies are clamped to zero rather than surfaced.
func (r *repository) OnHand(ctx context.Context, itemID, locationID int64, asOf time.Time) (float64, error) {
	var qty float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta), 0) FROM stock_moves
WHERE item_id=$1 AND location_id=$2 AND moved_at < $3`, itemID, locationID, asOf).Scan(&qty)
	if err != nil {
		return 0, err
	}
	if qty < 0 {
		return 0, nil
	}
	return qty, nil
}

func queryLines(ctx context.Context, q db.DBTX, docID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, doc_id, item_id, qty, unit_value, locked_qty
FROM stock_lines WHERE doc_id=$1 ORDER BY id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocID, &l.ItemID, &l.Qty, &l.UnitValue, &l.LockedQty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertDocument(ctx context.Context, d Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_documents
(public_id, number, outlet_id, warehouse_id, locked, locked_value, created_at, updated_at)
VALUES ($1, $2, $3, $4, FALSE, 0, NOW(), NOW())
RETURNING id`, d.PublicID, d.Number, d.OutletID, d.WarehouseID).Scan(&id)
	return id, err
}

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM stock_documents WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetLines(ctx context.Context, docID int64) ([]Line, error) {
	return queryLines(ctx, r.tx, docID)
}

// ReplaceLines swaps the document's lines, carrying locked quantities over
// by item so the next lock posts only movement deltas.
func (r *txRepository) ReplaceLines(ctx context.Context, docID int64, lines []Line) error {
	lockedByItem := make(map[int64]float64)
	existing, err := r.GetLines(ctx, docID)
	if err != nil {
		return err
	}
	for _, l := range existing {
		lockedByItem[l.ItemID] += l.LockedQty
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_lines WHERE doc_id=$1`, docID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO stock_lines (doc_id, item_id, qty, unit_value, locked_qty)
VALUES ($1, $2, $3, $4, $5)`, docID, l.ItemID, l.Qty, l.UnitValue, lockedByItem[l.ItemID])
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) SetLockedQty(ctx context.Context, docID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_lines SET locked_qty=qty WHERE doc_id=$1`, docID)
	return err
}

func (r *txRepository) ClearLockedQty(ctx context.Context, docID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_lines SET locked_qty=0 WHERE doc_id=$1`, docID)
	return err
}

func (r *txRepository) UpdateLock(ctx context.Context, docID int64, locked bool, lockedValue float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_documents SET locked=$2, locked_value=$3, updated_at=NOW() WHERE id=$1`, docID, locked, lockedValue)
	return err
}

func (r *txRepository) InsertMoves(ctx context.Context, moves []Move) error {
	for _, m := range moves {
		_, err := r.tx.Exec(ctx, `INSERT INTO stock_moves (item_id, location_id, qty_delta, doc_public_id, moved_at)
VALUES ($1, $2, $3, $4, $5)`, m.ItemID, m.LocationID, m.QtyDelta, m.DocPublicID, m.MovedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) UnitOfWork() posting.UnitOfWork {
	return posting.NewUnitOfWork(r.tx)
}
