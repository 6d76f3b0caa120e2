package purchasing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Repository encapsulates purchase persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	GetChain(ctx context.Context, chainID uuid.UUID) ([]Purchase, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	List(ctx context.Context, filter ListFilter) ([]Purchase, error)
}

// TxRepository exposes the writes available inside one transaction, plus the
// unit of work the posting engine rides on. Everything done through it
// commits or rolls back as a whole.
type TxRepository interface {
	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	GetChainForUpdate(ctx context.Context, chainID uuid.UUID) ([]Purchase, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	LinkNextRevision(ctx context.Context, prevID, nextID int64) error
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error)
	MarkPaymentReversed(ctx context.Context, id int64) error
	UnitOfWork() posting.UnitOfWork
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	SupplierID int64
	OutletID   int64
	Status     Status
	Limit      int
	Offset     int
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

const purchaseColumns = `id, public_id, chain_id, revision, prev_revision_id, next_revision_id, kind, number, supplier_id, outlet_id, grand_total, status, created_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.PublicID, &p.ChainID, &p.Revision, &p.PrevRevisionID, &p.NextRevisionID, &p.Kind, &p.Number, &p.SupplierID, &p.OutletID, &p.GrandTotal, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	return p, nil
}

func (r *repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id))
}

func (r *repository) GetChain(ctx context.Context, chainID uuid.UUID) ([]Purchase, error) {
	return collectChain(ctx, r.pool, chainID, false)
}

func (r *repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	var payment Payment
	err := r.pool.QueryRow(ctx, `SELECT id, purchase_id, amount, paid_at, reversed FROM purchase_payments WHERE id=$1`, id).
		Scan(&payment.ID, &payment.PurchaseID, &payment.Amount, &payment.PaidAt, &payment.Reversed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	return payment, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases
WHERE ($1 = 0 OR supplier_id = $1) AND ($2 = 0 OR outlet_id = $2) AND ($3 = '' OR status = $3)
ORDER BY id DESC LIMIT $4 OFFSET $5`, filter.SupplierID, filter.OutletID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchases (public_id, chain_id, revision, prev_revision_id, kind, number, supplier_id, outlet_id, grand_total, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		p.PublicID, p.ChainID, p.Revision, p.PrevRevisionID, p.Kind, p.Number, p.SupplierID, p.OutletID, p.GrandTotal, p.Status).Scan(&id)
	return id, err
}

func (r *txRepository) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	return scanPurchase(r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetChainForUpdate(ctx context.Context, chainID uuid.UUID) ([]Purchase, error) {
	return collectChain(ctx, r.tx, chainID, true)
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchases SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) LinkNextRevision(ctx context.Context, prevID, nextID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchases SET next_revision_id=$2 WHERE id=$1`, prevID, nextID)
	return err
}

func (r *txRepository) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_payments (purchase_id, amount, paid_at) VALUES ($1,$2,$3) RETURNING id`,
		payment.PurchaseID, payment.Amount, payment.PaidAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	var payment Payment
	err := r.tx.QueryRow(ctx, `SELECT id, purchase_id, amount, paid_at, reversed FROM purchase_payments WHERE id=$1 FOR UPDATE`, id).
		Scan(&payment.ID, &payment.PurchaseID, &payment.Amount, &payment.PaidAt, &payment.Reversed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	return payment, nil
}

func (r *txRepository) MarkPaymentReversed(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_payments SET reversed=TRUE WHERE id=$1 AND NOT reversed`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (r *txRepository) UnitOfWork() posting.UnitOfWork {
	return posting.NewUnitOfWork(r.tx)
}

func collectChain(ctx context.Context, q db.DBTX, chainID uuid.UUID, forUpdate bool) ([]Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE chain_id=$1 ORDER BY revision ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, ErrNotFound
	}
	return purchases, nil
}
