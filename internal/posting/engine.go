package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/accounts"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/observability"
)

// Engine constructs balanced entry batches for document lifecycle events.
// Every operation runs against the caller's unit of work: ledger rows and
// the outbox notification commit together with the domain change, or not at
// all.
type Engine struct {
	accounts accounts.Resolver
	logger   *slog.Logger
	metrics  *observability.PostingMetrics
	now      func() time.Time
}

// NewEngine constructs the posting engine. Metrics may be nil.
func NewEngine(resolver accounts.Resolver, logger *slog.Logger, metrics *observability.PostingMetrics) *Engine {
	return &Engine{accounts: resolver, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// PostPurchaseCreate posts the initial batch for a purchase: debit inventory
// for the goods value, credit the supplier's AP account for the grand total.
func (e *Engine) PostPurchaseCreate(ctx context.Context, uow UnitOfWork, doc PurchaseDoc) error {
	if doc.GrandTotal <= 0 {
		return fmt.Errorf("%w: grand total must be positive", ErrValidation)
	}
	if err := uow.Chains().BeginChain(ctx, doc.ChainID); err != nil {
		return err
	}
	return e.postPurchaseAmount(ctx, uow, doc, doc.GrandTotal, ledger.SourcePurchaseCreate)
}

// PostPurchaseRevision posts only the delta between the amended total and
// the previous revision's total. Posting the full new total would double
// count the prior batches. A zero delta advances the sequence and refreshes
// the sync record but writes no marker batch; this mirrors the revision
// itself carrying no financial change.
func (e *Engine) PostPurchaseRevision(ctx context.Context, uow UnitOfWork, doc PurchaseDoc, delta float64) error {
	if err := uow.Chains().AdvanceChain(ctx, doc.ChainID, doc.Revision); err != nil {
		return err
	}
	delta = ledger.Round2(delta)
	if delta == 0 {
		e.observe(ledger.SourcePurchaseRevision)
		return e.enqueuePurchase(ctx, uow, doc)
	}
	return e.postPurchaseAmount(ctx, uow, doc, delta, ledger.SourcePurchaseRevision)
}

// PostPurchaseReturn posts the mirror image of a create for a return
// document: credit inventory, debit the supplier's AP account.
func (e *Engine) PostPurchaseReturn(ctx context.Context, uow UnitOfWork, doc PurchaseDoc) error {
	if doc.GrandTotal <= 0 {
		return fmt.Errorf("%w: return value must be positive", ErrValidation)
	}
	if err := uow.Chains().BeginChain(ctx, doc.ChainID); err != nil {
		return err
	}
	return e.postPurchaseAmount(ctx, uow, doc, -doc.GrandTotal, ledger.SourcePurchaseReturn)
}

// PostPurchaseVoid posts the reversal of the amount one revision originally
// posted. The original entries stay untouched.
func (e *Engine) PostPurchaseVoid(ctx context.Context, uow UnitOfWork, doc PurchaseDoc, postedAmount float64) error {
	if ledger.Round2(postedAmount) == 0 {
		return e.enqueuePurchase(ctx, uow, doc)
	}
	return e.postPurchaseAmount(ctx, uow, doc, -postedAmount, ledger.SourcePurchaseVoid)
}

// PostPurchaseReturnVoid reverses a posted return.
func (e *Engine) PostPurchaseReturnVoid(ctx context.Context, uow UnitOfWork, doc PurchaseDoc) error {
	return e.postPurchaseAmount(ctx, uow, doc, doc.GrandTotal, ledger.SourcePurchaseReturnVoid)
}

// PostPurchasePaymentAdded settles part of a purchase: debit AP, credit
// cash.
func (e *Engine) PostPurchasePaymentAdded(ctx context.Context, uow UnitOfWork, doc PurchaseDoc, payment Payment) error {
	return e.postPayment(ctx, uow, doc, payment, false)
}

// PostPurchasePaymentReversal posts the mirror of a prior payment. The old
// payment's entries are never edited.
func (e *Engine) PostPurchasePaymentReversal(ctx context.Context, uow UnitOfWork, doc PurchaseDoc, oldPayment Payment) error {
	return e.postPayment(ctx, uow, doc, oldPayment, true)
}

func (e *Engine) postPayment(ctx context.Context, uow UnitOfWork, doc PurchaseDoc, payment Payment, reversal bool) error {
	amount := ledger.Round2(payment.Amount)
	if amount <= 0 {
		return fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	apAccount, err := e.accounts.Resolve(ctx, accounts.RoleAccountsPayable, accounts.Scope{SupplierID: doc.SupplierID, OutletID: doc.OutletID})
	if err != nil {
		return err
	}
	cashAccount, err := e.accounts.Resolve(ctx, accounts.RoleCash, accounts.Scope{OutletID: doc.OutletID})
	if err != nil {
		return err
	}
	kind := ledger.SourcePaymentAdded
	lines := []ledger.Line{
		{AccountID: apAccount, Debit: amount},
		{AccountID: cashAccount, Credit: amount},
	}
	if reversal {
		kind = ledger.SourcePaymentReversal
		lines = []ledger.Line{
			{AccountID: cashAccount, Debit: amount},
			{AccountID: apAccount, Credit: amount},
		}
	}
	batch := ledger.Batch{
		DocPublicID: doc.PublicID,
		DocNumber:   doc.Number,
		SourceKind:  kind,
		PostedAt:    e.now(),
		Lines:       lines,
	}
	if err := uow.Ledger().InsertBatch(ctx, batch); err != nil {
		return err
	}
	e.observe(kind)
	key := fmt.Sprintf("%s:%d", doc.PublicID, payment.ID)
	return uow.Outbox().EnqueueUpsert(ctx, "PurchasePayment", key, map[string]any{
		"purchase_public_id": doc.PublicID.String(),
		"payment_id":         payment.ID,
		"amount":             amount,
		"reversed":           reversal,
	})
}

// PostTillClose posts the cash variance of a till session. A zero variance
// closes the session without writing entries.
func (e *Engine) PostTillClose(ctx context.Context, uow UnitOfWork, session TillSession, declaredToMove, systemCash float64) error {
	variance := ledger.Round2(declaredToMove - systemCash)
	if variance != 0 {
		cashAccount, err := e.accounts.Resolve(ctx, accounts.RoleCash, accounts.Scope{OutletID: session.OutletID})
		if err != nil {
			return err
		}
		varianceAccount, err := e.accounts.Resolve(ctx, accounts.RoleTillVariance, accounts.Scope{OutletID: session.OutletID})
		if err != nil {
			return err
		}
		lines := []ledger.Line{
			{AccountID: cashAccount, Debit: variance},
			{AccountID: varianceAccount, Credit: variance},
		}
		if variance < 0 {
			lines = []ledger.Line{
				{AccountID: varianceAccount, Debit: -variance},
				{AccountID: cashAccount, Credit: -variance},
			}
		}
		batch := ledger.Batch{
			DocPublicID: session.PublicID,
			DocNumber:   session.Number,
			SourceKind:  ledger.SourceTillClose,
			PostedAt:    e.now(),
			Lines:       lines,
		}
		if err := uow.Ledger().InsertBatch(ctx, batch); err != nil {
			return err
		}
		e.observe(ledger.SourceTillClose)
	}
	return uow.Outbox().EnqueueUpsert(ctx, "TillSession", session.PublicID.String(), map[string]any{
		"public_id":        session.PublicID.String(),
		"number":           session.Number,
		"declared_to_move": declaredToMove,
		"system_cash":      systemCash,
		"variance":         variance,
	})
}

// PostOpeningStock posts the value delta of an opening-stock document since
// its last lock: debit inventory, credit the offset account. The first lock
// posts the full value.
func (e *Engine) PostOpeningStock(ctx context.Context, uow UnitOfWork, doc StockDoc, entries []StockEntry, offsetAccountID int64) (float64, error) {
	if offsetAccountID == 0 {
		return 0, fmt.Errorf("%w: offset account required", ErrValidation)
	}
	var total float64
	for _, entry := range entries {
		total += entry.Qty * entry.UnitValue
	}
	total = ledger.Round2(total)
	delta := ledger.Round2(total - doc.LockedValue)
	if delta != 0 {
		inventoryAccount, err := e.accounts.Resolve(ctx, accounts.RoleInventory, accounts.Scope{OutletID: doc.OutletID})
		if err != nil {
			return 0, err
		}
		lines := []ledger.Line{
			{AccountID: inventoryAccount, Debit: delta},
			{AccountID: offsetAccountID, Credit: delta},
		}
		if delta < 0 {
			lines = []ledger.Line{
				{AccountID: offsetAccountID, Debit: -delta},
				{AccountID: inventoryAccount, Credit: -delta},
			}
		}
		batch := ledger.Batch{
			DocPublicID: doc.PublicID,
			DocNumber:   doc.Number,
			SourceKind:  ledger.SourceOpeningStock,
			PostedAt:    e.now(),
			Lines:       lines,
		}
		if err := uow.Ledger().InsertBatch(ctx, batch); err != nil {
			return 0, err
		}
		e.observe(ledger.SourceOpeningStock)
	}
	if err := uow.Outbox().EnqueueUpsert(ctx, "StockDocument", doc.PublicID.String(), map[string]any{
		"public_id":    doc.PublicID.String(),
		"number":       doc.Number,
		"locked_value": total,
		"locked":       true,
	}); err != nil {
		return 0, err
	}
	return total, nil
}

// UnlockOpeningStock posts the inverse of the currently locked value so the
// document can be edited and re-locked without double posting.
func (e *Engine) UnlockOpeningStock(ctx context.Context, uow UnitOfWork, doc StockDoc) error {
	locked := ledger.Round2(doc.LockedValue)
	if locked != 0 {
		inventoryAccount, err := e.accounts.Resolve(ctx, accounts.RoleInventory, accounts.Scope{OutletID: doc.OutletID})
		if err != nil {
			return err
		}
		offsetAccount, err := e.accounts.Resolve(ctx, accounts.RoleOpeningOffset, accounts.Scope{OutletID: doc.OutletID})
		if err != nil {
			return err
		}
		lines := []ledger.Line{
			{AccountID: offsetAccount, Debit: locked},
			{AccountID: inventoryAccount, Credit: locked},
		}
		if locked < 0 {
			lines = []ledger.Line{
				{AccountID: inventoryAccount, Debit: -locked},
				{AccountID: offsetAccount, Credit: -locked},
			}
		}
		batch := ledger.Batch{
			DocPublicID: doc.PublicID,
			DocNumber:   doc.Number,
			SourceKind:  ledger.SourceOpeningStockUnlock,
			PostedAt:    e.now(),
			Lines:       lines,
		}
		if err := uow.Ledger().InsertBatch(ctx, batch); err != nil {
			return err
		}
		e.observe(ledger.SourceOpeningStockUnlock)
	}
	return uow.Outbox().EnqueueUpsert(ctx, "StockDocument", doc.PublicID.String(), map[string]any{
		"public_id": doc.PublicID.String(),
		"number":    doc.Number,
		"locked":    false,
	})
}

// postPurchaseAmount writes a purchase-shaped batch for a signed amount. A
// positive amount debits inventory and credits AP; a negative amount posts
// the mirror.
func (e *Engine) postPurchaseAmount(ctx context.Context, uow UnitOfWork, doc PurchaseDoc, amount float64, kind ledger.SourceKind) error {
	amount = ledger.Round2(amount)
	inventoryAccount, err := e.accounts.Resolve(ctx, accounts.RoleInventory, accounts.Scope{OutletID: doc.OutletID})
	if err != nil {
		return err
	}
	apAccount, err := e.accounts.Resolve(ctx, accounts.RoleAccountsPayable, accounts.Scope{SupplierID: doc.SupplierID, OutletID: doc.OutletID})
	if err != nil {
		return err
	}
	lines := []ledger.Line{
		{AccountID: inventoryAccount, Debit: amount},
		{AccountID: apAccount, Credit: amount},
	}
	if amount < 0 {
		lines = []ledger.Line{
			{AccountID: apAccount, Debit: -amount},
			{AccountID: inventoryAccount, Credit: -amount},
		}
	}
	batch := ledger.Batch{
		DocPublicID: doc.PublicID,
		DocNumber:   doc.Number,
		SourceKind:  kind,
		PostedAt:    e.now(),
		Lines:       lines,
	}
	if err := uow.Ledger().InsertBatch(ctx, batch); err != nil {
		return err
	}
	e.observe(kind)
	return e.enqueuePurchase(ctx, uow, doc)
}

func (e *Engine) enqueuePurchase(ctx context.Context, uow UnitOfWork, doc PurchaseDoc) error {
	return uow.Outbox().EnqueueUpsert(ctx, "Purchase", doc.PublicID.String(), map[string]any{
		"public_id":   doc.PublicID.String(),
		"chain_id":    doc.ChainID.String(),
		"revision":    doc.Revision,
		"number":      doc.Number,
		"supplier_id": doc.SupplierID,
		"outlet_id":   doc.OutletID,
		"grand_total": doc.GrandTotal,
	})
}

func (e *Engine) observe(kind ledger.SourceKind) {
	if e.metrics != nil {
		e.metrics.ObserveBatch(string(kind))
	}
	if e.logger != nil {
		e.logger.Debug("ledger batch posted", slog.String("source_kind", string(kind)))
	}
}
