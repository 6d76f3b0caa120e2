package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// SourceKind tags which lifecycle event produced a batch of entries.
type SourceKind string

const (
	SourcePurchaseCreate     SourceKind = "PurchaseCreate"
	SourcePurchaseRevision   SourceKind = "PurchaseRevision"
	SourcePurchaseVoid       SourceKind = "PurchaseVoid"
	SourcePurchaseReturn     SourceKind = "PurchaseReturn"
	SourcePurchaseReturnVoid SourceKind = "PurchaseReturnVoid"
	SourcePaymentAdded       SourceKind = "PurchasePayment"
	SourcePaymentReversal    SourceKind = "PurchasePaymentReversal"
	SourceTillClose          SourceKind = "TillClose"
	SourceOpeningStock       SourceKind = "OpeningStock"
	SourceOpeningStockUnlock SourceKind = "OpeningStockUnlock"
	SourceChainReversal      SourceKind = "ChainReversal"
)

// Entry is one leg of a double-entry posting. Entries are append-only;
// corrections are always new entries, never edits.
type Entry struct {
	ID          int64
	AccountID   int64
	Debit       float64
	Credit      float64
	DocPublicID uuid.UUID
	DocNumber   string
	SourceKind  SourceKind
	Invalid     bool
	PostedAt    time.Time
	CreatedAt   time.Time
}

// Line is a proposed leg inside a batch before it is written.
type Line struct {
	AccountID int64
	Debit     float64
	Credit    float64
}

// Batch groups the legs produced by a single posting call. All legs share
// the logical document id and the source kind.
type Batch struct {
	DocPublicID uuid.UUID
	DocNumber   string
	SourceKind  SourceKind
	PostedAt    time.Time
	Lines       []Line
}

// Reversed returns a batch with every leg mirrored, used for voids and
// chain reversals.
func (b Batch) Reversed(kind SourceKind, at time.Time) Batch {
	out := Batch{
		DocPublicID: b.DocPublicID,
		DocNumber:   b.DocNumber,
		SourceKind:  kind,
		PostedAt:    at,
		Lines:       make([]Line, 0, len(b.Lines)),
	}
	for _, line := range b.Lines {
		out.Lines = append(out.Lines, Line{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit})
	}
	return out
}

// Round2 rounds a monetary amount to two decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
