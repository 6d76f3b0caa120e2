package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/accounts"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Service runs the opening-stock lifecycle.
type Service struct {
	repo     Repository
	engine   *posting.Engine
	accounts accounts.Resolver
	now      func() time.Time
}

// NewService constructs the stock service.
func NewService(repo Repository, engine *posting.Engine, resolver accounts.Resolver) *Service {
	return &Service{repo: repo, engine: engine, accounts: resolver, now: time.Now}
}

// CreateInput describes a new opening-stock document.
type CreateInput struct {
	Number      string
	OutletID    int64
	WarehouseID int64
}

// Create registers an empty, unlocked document.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	if input.OutletID == 0 || input.WarehouseID == 0 {
		return Document{}, fmt.Errorf("%w: outlet and warehouse required", ErrValidation)
	}
	doc := Document{
		PublicID:    uuid.New(),
		Number:      input.Number,
		OutletID:    input.OutletID,
		WarehouseID: input.WarehouseID,
	}
	if doc.Number == "" {
		doc.Number = fmt.Sprintf("OS-%d", s.now().UnixNano())
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = id
		return nil
	})
	if err != nil {
		return Document{}, mapConflict(err)
	}
	return doc, nil
}

// LineInput is one counted item.
type LineInput struct {
	ItemID    int64
	Qty       float64
	UnitValue float64
}

// SetLines replaces the document's counted lines. Locked documents must be
// unlocked first.
func (s *Service) SetLines(ctx context.Context, docID int64, inputs []LineInput) error {
	lines := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemID == 0 {
			return fmt.Errorf("%w: line missing item", ErrValidation)
		}
		if in.Qty < 0 || in.UnitValue < 0 {
			return fmt.Errorf("%w: quantities and values cannot be negative", ErrValidation)
		}
		lines = append(lines, Line{ItemID: in.ItemID, Qty: in.Qty, UnitValue: in.UnitValue})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if doc.Locked {
			return ErrLocked
		}
		return tx.ReplaceLines(ctx, docID, lines)
	})
	return mapConflict(err)
}

// Lock values the count into the ledger and freezes the document. The value
// batch, the movement rows and the sync record commit together. Re-locking
// after an unlock posts the full value again; the ledger only ever carries
// the delta against what is already posted.
func (s *Service) Lock(ctx context.Context, docID int64) (Document, error) {
	var locked Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if doc.Locked {
			return ErrLocked
		}
		lines, err := tx.GetLines(ctx, docID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: document has no lines", ErrValidation)
		}
		offsetAccount, err := s.accounts.Resolve(ctx, accounts.RoleOpeningOffset, accounts.Scope{OutletID: doc.OutletID})
		if err != nil {
			return err
		}
		entries := make([]posting.StockEntry, 0, len(lines))
		for _, l := range lines {
			entries = append(entries, posting.StockEntry{ItemID: l.ItemID, Qty: l.Qty, UnitValue: l.UnitValue})
		}
		total, err := s.engine.PostOpeningStock(ctx, tx.UnitOfWork(), posting.StockDoc{
			PublicID:    doc.PublicID,
			Number:      doc.Number,
			OutletID:    doc.OutletID,
			LockedValue: doc.LockedValue,
		}, entries, offsetAccount)
		if err != nil {
			return err
		}
		movedAt := s.now()
		moves := make([]Move, 0, len(lines))
		for _, l := range lines {
			delta := l.Qty - l.LockedQty
			if delta == 0 {
				continue
			}
			moves = append(moves, Move{
				ItemID:      l.ItemID,
				LocationID:  doc.WarehouseID,
				QtyDelta:    delta,
				DocPublicID: doc.PublicID,
				MovedAt:     movedAt,
			})
		}
		if err := tx.InsertMoves(ctx, moves); err != nil {
			return err
		}
		if err := tx.SetLockedQty(ctx, docID); err != nil {
			return err
		}
		if err := tx.UpdateLock(ctx, docID, true, total); err != nil {
			return err
		}
		doc.Locked = true
		doc.LockedValue = total
		locked = doc
		return nil
	})
	if err != nil {
		return Document{}, mapConflict(err)
	}
	return locked, nil
}

// Unlock reverses the locked value and quantities so the count can be
// edited.
func (s *Service) Unlock(ctx context.Context, docID int64) (Document, error) {
	var unlocked Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		if !doc.Locked {
			return ErrNotLocked
		}
		if err := s.engine.UnlockOpeningStock(ctx, tx.UnitOfWork(), posting.StockDoc{
			PublicID:    doc.PublicID,
			Number:      doc.Number,
			OutletID:    doc.OutletID,
			LockedValue: doc.LockedValue,
		}); err != nil {
			return err
		}
		lines, err := tx.GetLines(ctx, docID)
		if err != nil {
			return err
		}
		movedAt := s.now()
		moves := make([]Move, 0, len(lines))
		for _, l := range lines {
			if l.LockedQty == 0 {
				continue
			}
			moves = append(moves, Move{
				ItemID:      l.ItemID,
				LocationID:  doc.WarehouseID,
				QtyDelta:    -l.LockedQty,
				DocPublicID: doc.PublicID,
				MovedAt:     movedAt,
			})
		}
		if err := tx.InsertMoves(ctx, moves); err != nil {
			return err
		}
		if err := tx.ClearLockedQty(ctx, docID); err != nil {
			return err
		}
		if err := tx.UpdateLock(ctx, docID, false, 0); err != nil {
			return err
		}
		doc.Locked = false
		doc.LockedValue = 0
		unlocked = doc
		return nil
	})
	if err != nil {
		return Document{}, mapConflict(err)
	}
	return unlocked, nil
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	return s.repo.GetDocument(ctx, id)
}

// Lines returns the document's counted lines.
func (s *Service) Lines(ctx context.Context, docID int64) ([]Line, error) {
	return s.repo.GetLines(ctx, docID)
}

// OnHand returns the item's on-hand quantity at a location before the
// cutoff, floored at zero.
func (s *Service) OnHand(ctx context.Context, itemID, locationID int64, asOf time.Time) (float64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.OnHand(ctx, itemID, locationID, asOf)
}

// Value returns the current total value of the document's lines.
func Value(lines []Line) float64 {
	var total float64
	for _, l := range lines {
		total += l.Qty * l.UnitValue
	}
	return ledger.Round2(total)
}

func mapConflict(err error) error {
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", posting.ErrOptimisticConflict, err)
	}
	return err
}
