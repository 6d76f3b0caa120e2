package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnbalanced means a constructed batch fails debit=credit. This is an
	// internal invariant violation: the batch is rejected before any write
	// and the enclosing transaction aborts.
	ErrUnbalanced = errors.New("ledger: batch debits do not equal credits")
	// ErrTooFewLines means a batch has fewer than two legs.
	ErrTooFewLines = errors.New("ledger: batch requires at least two lines")
	// ErrEntryNotFound indicates no entries exist for the lookup.
	ErrEntryNotFound = errors.New("ledger: entry not found")
)

// Validate checks the financial invariants of a proposed batch: every leg
// carries exactly one non-negative side and the batch balances at two
// decimal places.
func (b Batch) Validate() error {
	if b.DocPublicID == uuid.Nil {
		return errors.New("ledger: document public id required")
	}
	if b.SourceKind == "" {
		return errors.New("ledger: source kind required")
	}
	if b.PostedAt.IsZero() {
		return errors.New("ledger: posted at required")
	}
	if len(b.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range b.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if fmt.Sprintf("%.2f", debit) != fmt.Sprintf("%.2f", credit) {
		return ErrUnbalanced
	}
	return nil
}
