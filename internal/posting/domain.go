// Package posting builds balanced ledger batches for document lifecycle
// events and queues the matching sync notification inside the caller's
// transaction.
package posting

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidation indicates malformed or out-of-policy posting input.
	ErrValidation = errors.New("posting: invalid input")
	// ErrOutOfSequence means a revision was posted out of order, skipped a
	// revision, or targeted a voided chain.
	ErrOutOfSequence = errors.New("posting: revision out of sequence")
	// ErrOptimisticConflict means the store detected a concurrent
	// modification at commit. Retry the whole operation from scratch.
	ErrOptimisticConflict = errors.New("posting: concurrent modification")
)

// DocKind tells the engine which direction a chain posts. A purchase debits
// inventory; a return credits it. The zero value means purchase so existing
// callers keep their behavior.
type DocKind string

const (
	DocKindPurchase DocKind = "PURCHASE"
	DocKindReturn   DocKind = "RETURN"
)

// PurchaseDoc carries the purchase fields the engine posts from. The caller
// owns business validation; the engine only checks financial invariants.
type PurchaseDoc struct {
	PublicID   uuid.UUID
	ChainID    uuid.UUID
	Kind       DocKind
	Revision   int
	Number     string
	SupplierID int64
	OutletID   int64
	GrandTotal float64
	CreatedAt  time.Time
}

// PostedSign is the sign the chain's totals carry in the ledger: +1 for
// purchases, -1 for returns.
func (d PurchaseDoc) PostedSign() float64 {
	if d.Kind == DocKindReturn {
		return -1
	}
	return 1
}

// Payment describes a settlement against a purchase.
type Payment struct {
	ID     int64
	Amount float64
	PaidAt time.Time
}

// TillSession identifies a cash-drawer session for variance posting.
type TillSession struct {
	PublicID uuid.UUID
	Number   string
	OutletID int64
}

// StockDoc identifies an opening-stock document and its last locked value.
type StockDoc struct {
	PublicID    uuid.UUID
	Number      string
	OutletID    int64
	LockedValue float64
}

// StockEntry is one opening-stock line.
type StockEntry struct {
	ItemID    int64
	Qty       float64
	UnitValue float64
}
