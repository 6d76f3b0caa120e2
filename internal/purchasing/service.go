package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// AuditPort records audit trail rows after a flow commits.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// BalanceCache invalidates read-side balance projections after a posting
// commits.
type BalanceCache interface {
	InvalidateBalances(ctx context.Context)
}

// Service orchestrates the purchase lifecycle. Every mutating operation runs
// one transaction spanning the document write, the ledger batch and the
// outbox enqueue.
type Service struct {
	repo        Repository
	engine      *posting.Engine
	voider      *posting.ChainVoider
	audit       AuditPort
	balances    BalanceCache
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs the purchasing service. Audit, balances and the
// idempotency store are optional.
func NewService(repo Repository, engine *posting.Engine, voider *posting.ChainVoider, audit AuditPort, balances BalanceCache, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, engine: engine, voider: voider, audit: audit, balances: balances, idempotency: idem, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInput describes a new purchase or return document.
type CreateInput struct {
	Number     string
	SupplierID int64
	OutletID   int64
	GrandTotal float64
	Kind       Kind
}

// Create persists the original revision of a document and posts its ledger
// batch.
func (s *Service) Create(ctx context.Context, input CreateInput) (Purchase, error) {
	if input.SupplierID == 0 || input.OutletID == 0 {
		return Purchase{}, fmt.Errorf("%w: supplier and outlet required", ErrValidation)
	}
	if ledger.Round2(input.GrandTotal) <= 0 {
		return Purchase{}, fmt.Errorf("%w: grand total must be positive", ErrValidation)
	}
	kind := input.Kind
	if kind == "" {
		kind = KindPurchase
	}
	number := input.Number
	if number == "" {
		number = generateNumber(numberPrefix(kind))
	}
	p := Purchase{
		PublicID:   uuid.New(),
		ChainID:    uuid.New(),
		Revision:   0,
		Kind:       kind,
		Number:     number,
		SupplierID: input.SupplierID,
		OutletID:   input.OutletID,
		GrandTotal: ledger.Round2(input.GrandTotal),
		Status:     StatusFinal,
	}
	idemKey := fmt.Sprintf("%s:%s", kind, number)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "purchasing.create"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Purchase{}, fmt.Errorf("%w: document %s already processed", ErrInvalidState, number)
			}
			return Purchase{}, err
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertPurchase(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		doc := toPostingDoc(p)
		if kind == KindReturn {
			return s.engine.PostPurchaseReturn(ctx, tx.UnitOfWork(), doc)
		}
		return s.engine.PostPurchaseCreate(ctx, tx.UnitOfWork(), doc)
	})
	if err != nil {
		if s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Purchase{}, mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.create", p.ID, map[string]any{"number": p.Number, "grand_total": p.GrandTotal})
	return p, nil
}

// Revise appends a new revision to the document's chain and posts only the
// total delta against the previous revision.
func (s *Service) Revise(ctx context.Context, purchaseID int64, newGrandTotal float64) (Purchase, error) {
	if ledger.Round2(newGrandTotal) <= 0 {
		return Purchase{}, fmt.Errorf("%w: grand total must be positive", ErrValidation)
	}
	var amended Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if current.Status != StatusFinal || current.Kind != KindPurchase {
			return ErrInvalidState
		}
		if current.NextRevisionID != nil {
			// Only the chain's latest revision can be amended.
			return ErrInvalidState
		}
		prevID := current.ID
		amended = Purchase{
			PublicID:       current.PublicID,
			ChainID:        current.ChainID,
			Revision:       current.Revision + 1,
			PrevRevisionID: &prevID,
			Kind:           current.Kind,
			Number:         current.Number,
			SupplierID:     current.SupplierID,
			OutletID:       current.OutletID,
			GrandTotal:     ledger.Round2(newGrandTotal),
			Status:         StatusFinal,
		}
		id, err := tx.InsertPurchase(ctx, amended)
		if err != nil {
			return err
		}
		amended.ID = id
		if err := tx.LinkNextRevision(ctx, prevID, id); err != nil {
			return err
		}
		delta := amended.GrandTotal - current.GrandTotal
		return s.engine.PostPurchaseRevision(ctx, tx.UnitOfWork(), toPostingDoc(amended), delta)
	})
	if err != nil {
		return Purchase{}, mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.revise", amended.ID, map[string]any{"number": amended.Number, "revision": amended.Revision, "grand_total": amended.GrandTotal})
	return amended, nil
}

// VoidChain voids every revision of the chain, posting an independent
// reversal for each revision that reached the ledger.
func (s *Service) VoidChain(ctx context.Context, chainID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		chain, err := tx.GetChainForUpdate(ctx, chainID)
		if err != nil {
			return err
		}
		docs := make([]posting.PurchaseDoc, 0, len(chain))
		for _, p := range chain {
			if p.Status == StatusVoided {
				return ErrInvalidState
			}
			docs = append(docs, toPostingDoc(p))
		}
		if err := s.voider.VoidChain(ctx, tx.UnitOfWork(), docs); err != nil {
			return err
		}
		for _, p := range chain {
			if err := tx.UpdateStatus(ctx, p.ID, StatusVoided); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.void_chain", 0, map[string]any{"chain_id": chainID.String()})
	return nil
}

// VoidChainWithReversals zeroes the chain's net position as of the cutoff
// with one reversing batch, optionally invalidating entries posted after it.
func (s *Service) VoidChainWithReversals(ctx context.Context, chainID uuid.UUID, cutoff time.Time, invalidateOriginalsAfter bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		chain, err := tx.GetChainForUpdate(ctx, chainID)
		if err != nil {
			return err
		}
		docs := make([]posting.PurchaseDoc, 0, len(chain))
		for _, p := range chain {
			if p.Status == StatusVoided {
				return ErrInvalidState
			}
			docs = append(docs, toPostingDoc(p))
		}
		if err := s.voider.VoidChainWithReversals(ctx, tx.UnitOfWork(), docs, cutoff, invalidateOriginalsAfter); err != nil {
			return err
		}
		for _, p := range chain {
			if err := tx.UpdateStatus(ctx, p.ID, StatusVoided); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.void_chain_reversals", 0, map[string]any{"chain_id": chainID.String(), "cutoff": cutoff})
	return nil
}

// VoidReturn reverses a posted return document.
func (s *Service) VoidReturn(ctx context.Context, purchaseID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if current.Kind != KindReturn || current.Status != StatusFinal {
			return ErrInvalidState
		}
		if err := s.engine.PostPurchaseReturnVoid(ctx, tx.UnitOfWork(), toPostingDoc(current)); err != nil {
			return err
		}
		if err := tx.UnitOfWork().Chains().MarkVoided(ctx, current.ChainID); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, current.ID, StatusVoided)
	})
	if err != nil {
		return mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.void_return", purchaseID, nil)
	return nil
}

// AddPayment records a settlement and posts its ledger event.
func (s *Service) AddPayment(ctx context.Context, purchaseID int64, amount float64, paidAt time.Time) (Payment, error) {
	if ledger.Round2(amount) <= 0 {
		return Payment{}, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	payment := Payment{PurchaseID: purchaseID, Amount: ledger.Round2(amount), PaidAt: paidAt}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != StatusFinal {
			return ErrInvalidState
		}
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		return s.engine.PostPurchasePaymentAdded(ctx, tx.UnitOfWork(), toPostingDoc(purchase), posting.Payment{ID: id, Amount: payment.Amount, PaidAt: paidAt})
	})
	if err != nil {
		return Payment{}, mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.payment", payment.ID, map[string]any{"amount": payment.Amount})
	return payment, nil
}

// ReversePayment flags a payment reversed and posts the mirror event. The
// original payment's ledger rows stay as written.
func (s *Service) ReversePayment(ctx context.Context, paymentID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Reversed {
			return ErrInvalidState
		}
		purchase, err := tx.GetPurchaseForUpdate(ctx, payment.PurchaseID)
		if err != nil {
			return err
		}
		if err := tx.MarkPaymentReversed(ctx, paymentID); err != nil {
			return err
		}
		return s.engine.PostPurchasePaymentReversal(ctx, tx.UnitOfWork(), toPostingDoc(purchase), posting.Payment{ID: payment.ID, Amount: payment.Amount, PaidAt: payment.PaidAt})
	})
	if err != nil {
		return mapConflict(err)
	}
	s.afterCommit(ctx, "purchase.payment_reversal", paymentID, nil)
	return nil
}

// Get returns one purchase revision.
func (s *Service) Get(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// Chain returns every revision of a chain ordered by revision.
func (s *Service) Chain(ctx context.Context, chainID uuid.UUID) ([]Purchase, error) {
	return s.repo.GetChain(ctx, chainID)
}

// List returns purchases matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) afterCommit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.balances != nil {
		s.balances.InvalidateBalances(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "purchase",
			EntityID: fmt.Sprintf("%d", entityID),
			Meta:     meta,
			At:       s.now(),
		})
	}
}

func toPostingDoc(p Purchase) posting.PurchaseDoc {
	kind := posting.DocKindPurchase
	if p.Kind == KindReturn {
		kind = posting.DocKindReturn
	}
	return posting.PurchaseDoc{
		PublicID:   p.PublicID,
		ChainID:    p.ChainID,
		Kind:       kind,
		Revision:   p.Revision,
		Number:     p.Number,
		SupplierID: p.SupplierID,
		OutletID:   p.OutletID,
		GrandTotal: p.GrandTotal,
		CreatedAt:  p.CreatedAt,
	}
}

func mapConflict(err error) error {
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", posting.ErrOptimisticConflict, err)
	}
	return err
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func numberPrefix(kind Kind) string {
	if kind == KindReturn {
		return "PRN"
	}
	return "PUR"
}
