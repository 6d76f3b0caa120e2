package purchasing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Purchase lifecycle statuses.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusFinal  Status = "FINAL"
	StatusVoided Status = "VOIDED"
)

// Kind distinguishes purchases from purchase returns.
type Kind string

const (
	KindPurchase Kind = "PURCHASE"
	KindReturn   Kind = "RETURN"
)

// Purchase is one revision of a purchasing document. PublicID is stable
// across revisions; ChainID groups the original with all its revisions.
type Purchase struct {
	ID             int64
	PublicID       uuid.UUID
	ChainID        uuid.UUID
	Revision       int
	PrevRevisionID *int64
	NextRevisionID *int64
	Kind           Kind
	Number         string
	SupplierID     int64
	OutletID       int64
	GrandTotal     float64
	Status         Status
	CreatedAt      time.Time
}

// Payment is a settlement against a purchase. Reversals never edit the
// original payment; they flag it and post their own ledger event.
type Payment struct {
	ID         int64
	PurchaseID int64
	Amount     float64
	PaidAt     time.Time
	Reversed   bool
}

var (
	// ErrNotFound indicates the record is missing.
	ErrNotFound = errors.New("purchasing: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("purchasing: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
)
