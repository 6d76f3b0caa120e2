package posting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/outbox"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// LedgerWriter is the slice of ledger writes the engine needs, scoped to the
// unit of work's transaction.
type LedgerWriter interface {
	InsertBatch(ctx context.Context, batch ledger.Batch) error
	NetPosition(ctx context.Context, docPublicID uuid.UUID, asOf time.Time) (map[int64]float64, error)
	MarkInvalidAfter(ctx context.Context, docPublicID uuid.UUID, cutoff time.Time) (int64, error)
}

// OutboxWriter enqueues the sync notification on the same transaction.
type OutboxWriter interface {
	EnqueueUpsert(ctx context.Context, entityType, naturalKey string, payload any) error
}

// ChainState tracks which revision of a chain posted last so delta postings
// stay strictly ordered.
type ChainState interface {
	// BeginChain registers revision zero. Fails with ErrOutOfSequence when
	// the chain already posted.
	BeginChain(ctx context.Context, chainID uuid.UUID) error
	// AdvanceChain moves the chain from revision-1 to revision, locking the
	// state row for the rest of the transaction.
	AdvanceChain(ctx context.Context, chainID uuid.UUID, revision int) error
	// MarkVoided closes the chain for further postings.
	MarkVoided(ctx context.Context, chainID uuid.UUID) error
	// LastPosted returns the last posted revision. ok is false when the
	// chain never posted.
	LastPosted(ctx context.Context, chainID uuid.UUID) (revision int, voided bool, ok bool, err error)
}

// UnitOfWork groups the transaction-scoped collaborators of one posting
// call. It is owned exclusively by the operation that created it and must
// not be shared across concurrent calls. The enclosing transaction commits
// or rolls back document, ledger and outbox writes together; no explicit
// rollback code is needed in the operations themselves.
type UnitOfWork interface {
	Ledger() LedgerWriter
	Outbox() OutboxWriter
	Chains() ChainState
}

type pgUnitOfWork struct {
	dbtx   db.DBTX
	ledger *ledger.TxWriter
	outbox *outbox.Writer
}

// NewUnitOfWork wraps an active transaction handle. The caller keeps
// ownership of the transaction; this value is only valid until it ends.
func NewUnitOfWork(dbtx db.DBTX) UnitOfWork {
	return &pgUnitOfWork{dbtx: dbtx, ledger: ledger.NewTxWriter(dbtx), outbox: outbox.NewWriter()}
}

func (u *pgUnitOfWork) Ledger() LedgerWriter { return u.ledger }

func (u *pgUnitOfWork) Outbox() OutboxWriter { return outboxAdapter{dbtx: u.dbtx, writer: u.outbox} }

func (u *pgUnitOfWork) Chains() ChainState { return chainState{dbtx: u.dbtx} }

type outboxAdapter struct {
	dbtx   db.DBTX
	writer *outbox.Writer
}

func (a outboxAdapter) EnqueueUpsert(ctx context.Context, entityType, naturalKey string, payload any) error {
	return a.writer.EnqueueUpsert(ctx, a.dbtx, entityType, naturalKey, payload)
}

type chainState struct {
	dbtx db.DBTX
}

func (s chainState) BeginChain(ctx context.Context, chainID uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `INSERT INTO gl_doc_state (chain_id, last_revision, voided)
VALUES ($1, 0, FALSE) ON CONFLICT (chain_id) DO NOTHING`, chainID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOutOfSequence
	}
	return nil
}

func (s chainState) AdvanceChain(ctx context.Context, chainID uuid.UUID, revision int) error {
	if revision < 1 {
		return ErrValidation
	}
	var last int
	var voided bool
	err := s.dbtx.QueryRow(ctx, `SELECT last_revision, voided FROM gl_doc_state WHERE chain_id=$1 FOR UPDATE`, chainID).Scan(&last, &voided)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOutOfSequence
		}
		return err
	}
	if voided || last != revision-1 {
		return ErrOutOfSequence
	}
	_, err = s.dbtx.Exec(ctx, `UPDATE gl_doc_state SET last_revision=$2 WHERE chain_id=$1`, chainID, revision)
	return err
}

func (s chainState) MarkVoided(ctx context.Context, chainID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO gl_doc_state (chain_id, last_revision, voided)
VALUES ($1, 0, TRUE) ON CONFLICT (chain_id) DO UPDATE SET voided=TRUE`, chainID)
	return err
}

func (s chainState) LastPosted(ctx context.Context, chainID uuid.UUID) (int, bool, bool, error) {
	var last int
	var voided bool
	err := s.dbtx.QueryRow(ctx, `SELECT last_revision, voided FROM gl_doc_state WHERE chain_id=$1 FOR UPDATE`, chainID).Scan(&last, &voided)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	return last, voided, true, nil
}
