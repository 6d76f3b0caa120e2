// Package tills manages cash-drawer sessions. Closing a session posts the
// cash variance to the ledger and queues the session for sync, all in one
// transaction.
package tills

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("tills: session not found")
	// ErrInvalidState indicates the session is not in a state that allows
	// the operation.
	ErrInvalidState = errors.New("tills: invalid session state")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("tills: validation failed")
	// ErrSessionOpen indicates the till already has an open session.
	ErrSessionOpen = errors.New("tills: till already has an open session")
)

// Session is one cash-drawer working period.
type Session struct {
	ID             int64
	PublicID       uuid.UUID
	Number         string
	TillID         int64
	OutletID       int64
	OpeningFloat   float64
	DeclaredToMove float64
	SystemCash     float64
	Variance       float64
	Status         Status
	OpenedAt       time.Time
	ClosedAt       *time.Time
}
