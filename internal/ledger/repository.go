package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository exposes read-only aggregation over posted entries. Reads run on
// the pool with read-committed semantics; stale reads during an in-flight
// posting are expected and resolve once that posting commits.
type Repository interface {
	EntriesForDocument(ctx context.Context, docPublicID uuid.UUID) ([]Entry, error)
	AccountBalance(ctx context.Context, accountID int64, asOf time.Time) (float64, error)
	DocumentAccountBalance(ctx context.Context, docPublicID uuid.UUID, accountID int64) (debit, credit float64, err error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pool-backed read repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const entryColumns = `id, account_id, debit, credit, doc_public_id, doc_number, source_kind, invalid, posted_at, created_at`

func (r *repository) EntriesForDocument(ctx context.Context, docPublicID uuid.UUID) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE doc_public_id=$1 ORDER BY id ASC`, docPublicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Debit, &e.Credit, &e.DocPublicID, &e.DocNumber, &e.SourceKind, &e.Invalid, &e.PostedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) AccountBalance(ctx context.Context, accountID int64, asOf time.Time) (float64, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(debit - credit), 0) FROM ledger_entries
WHERE account_id=$1 AND NOT invalid AND posted_at <= $2`, accountID, asOf).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return Round2(balance), nil
}

func (r *repository) DocumentAccountBalance(ctx context.Context, docPublicID uuid.UUID, accountID int64) (float64, float64, error) {
	var debit, credit float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0) FROM ledger_entries
WHERE doc_public_id=$1 AND account_id=$2 AND NOT invalid`, docPublicID, accountID).Scan(&debit, &credit)
	if err != nil {
		return 0, 0, err
	}
	return Round2(debit), Round2(credit), nil
}

// TxWriter performs ledger writes on the caller's transaction handle. It must
// only be used inside an active unit of work; committing or rolling back is
// the caller's responsibility.
type TxWriter struct {
	db db.DBTX
}

// NewTxWriter wraps a transaction handle.
func NewTxWriter(dbtx db.DBTX) *TxWriter {
	return &TxWriter{db: dbtx}
}

// InsertBatch validates and appends every leg of the batch. An unbalanced
// batch is rejected wholesale; nothing is written.
func (w *TxWriter) InsertBatch(ctx context.Context, batch Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	for _, line := range batch.Lines {
		if _, err := w.db.Exec(ctx, `INSERT INTO ledger_entries (account_id, debit, credit, doc_public_id, doc_number, source_kind, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit), batch.DocPublicID, batch.DocNumber, batch.SourceKind, batch.PostedAt); err != nil {
			return err
		}
	}
	return nil
}

// NetPosition sums debit minus credit per account for a logical document,
// counting only valid entries posted at or before the cutoff.
func (w *TxWriter) NetPosition(ctx context.Context, docPublicID uuid.UUID, asOf time.Time) (map[int64]float64, error) {
	rows, err := w.db.Query(ctx, `SELECT account_id, COALESCE(SUM(debit - credit), 0) FROM ledger_entries
WHERE doc_public_id=$1 AND NOT invalid AND posted_at <= $2 GROUP BY account_id`, docPublicID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	position := make(map[int64]float64)
	for rows.Next() {
		var accountID int64
		var net float64
		if err := rows.Scan(&accountID, &net); err != nil {
			return nil, err
		}
		net = Round2(net)
		if net != 0 {
			position[accountID] = net
		}
	}
	return position, rows.Err()
}

// MarkInvalidAfter flags entries posted after the cutoff as invalid so
// balance queries exclude them. The rows themselves are never altered
// beyond the flag.
func (w *TxWriter) MarkInvalidAfter(ctx context.Context, docPublicID uuid.UUID, cutoff time.Time) (int64, error) {
	tag, err := w.db.Exec(ctx, `UPDATE ledger_entries SET invalid=TRUE WHERE doc_public_id=$1 AND posted_at > $2 AND NOT invalid`, docPublicID, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
