// Package stock manages opening-stock documents and the on-hand quantity
// projection. Locking a document values the counted stock into the ledger;
// unlocking reverses the locked value so the count can be edited and locked
// again without double posting.
package stock

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("stock: document not found")
	// ErrLocked indicates the document is locked and cannot be edited.
	ErrLocked = errors.New("stock: document is locked")
	// ErrNotLocked indicates an unlock was requested on an unlocked
	// document.
	ErrNotLocked = errors.New("stock: document is not locked")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("stock: validation failed")
)

// Document is an opening-stock count for one location.
type Document struct {
	ID          int64
	PublicID    uuid.UUID
	Number      string
	OutletID    int64
	WarehouseID int64
	Locked      bool
	LockedValue float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Line is one counted item. LockedQty is the quantity last valued into the
// ledger; the difference against Qty drives the next lock's movement rows.
type Line struct {
	ID        int64
	DocID     int64
	ItemID    int64
	Qty       float64
	UnitValue float64
	LockedQty float64
}

// Move is one signed quantity change for the on-hand projection.
type Move struct {
	ItemID      int64
	LocationID  int64
	QtyDelta    float64
	DocPublicID uuid.UUID
	MovedAt     time.Time
}
