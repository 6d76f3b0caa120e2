package tills

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Repository encapsulates session persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSession(ctx context.Context, id int64) (Session, error)
	ListOpen(ctx context.Context, outletID int64) ([]Session, error)
}

// TxRepository exposes the writes available inside one transaction.
type TxRepository interface {
	InsertSession(ctx context.Context, s Session) (int64, error)
	GetSessionForUpdate(ctx context.Context, id int64) (Session, error)
	HasOpenSession(ctx context.Context, tillID int64) (bool, error)
	CloseSession(ctx context.Context, s Session) error
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

const sessionColumns = `id, public_id, number, till_id, outlet_id, opening_float, declared_to_move, system_cash, variance, status, opened_at, closed_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.PublicID, &s.Number, &s.TillID, &s.OutletID, &s.OpeningFloat, &s.DeclaredToMove, &s.SystemCash, &s.Variance, &s.Status, &s.OpenedAt, &s.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (r *repository) GetSession(ctx context.Context, id int64) (Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM till_sessions WHERE id=$1`, id))
}

func (r *repository) ListOpen(ctx context.Context, outletID int64) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM till_sessions WHERE outlet_id=$1 AND status=$2 ORDER BY opened_at`, outletID, StatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertSession(ctx context.Context, s Session) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO till_sessions
(public_id, number, till_id, outlet_id, opening_float, declared_to_move, system_cash, variance, status, opened_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, NOW())
RETURNING id`, s.PublicID, s.Number, s.TillID, s.OutletID, s.OpeningFloat, s.Status).Scan(&id)
	return id, err
}

func (r *txRepository) GetSessionForUpdate(ctx context.Context, id int64) (Session, error) {
	return scanSession(r.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM till_sessions WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) HasOpenSession(ctx context.Context, tillID int64) (bool, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM till_sessions WHERE till_id=$1 AND status=$2`, tillID, StatusOpen).Scan(&count)
	return count > 0, err
}

func (r *txRepository) CloseSession(ctx context.Context, s Session) error {
	tag, err := r.tx.Exec(ctx, `UPDATE till_sessions
SET declared_to_move=$2, system_cash=$3, variance=$4, status=$5, closed_at=NOW()
WHERE id=$1 AND status=$6`, s.ID, s.DeclaredToMove, s.SystemCash, s.Variance, StatusClosed, StatusOpen)
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
