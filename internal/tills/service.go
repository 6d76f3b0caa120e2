package tills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Service runs the session lifecycle.
type Service struct {
	repo   Repository
	engine *posting.Engine
	now    func() time.Time
}

// NewService constructs the tills service.
func NewService(repo Repository, engine *posting.Engine) *Service {
	return &Service{repo: repo, engine: engine, now: time.Now}
}

// OpenInput describes a new session.
type OpenInput struct {
	TillID       int64
	OutletID     int64
	OpeningFloat float64
}

// Open starts a session for a till. A till carries at most one open session.
func (s *Service) Open(ctx context.Context, input OpenInput) (Session, error) {
	if input.TillID == 0 || input.OutletID == 0 {
		return Session{}, fmt.Errorf("%w: till and outlet required", ErrValidation)
	}
	if input.OpeningFloat < 0 {
		return Session{}, fmt.Errorf("%w: opening float cannot be negative", ErrValidation)
	}
	session := Session{
		PublicID:     uuid.New(),
		Number:       fmt.Sprintf("TILL-%d-%d", input.TillID, s.now().Unix()),
		TillID:       input.TillID,
		OutletID:     input.OutletID,
		OpeningFloat: ledger.Round2(input.OpeningFloat),
		Status:       StatusOpen,
		OpenedAt:     s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.HasOpenSession(ctx, input.TillID)
		if err != nil {
			return err
		}
		if open {
			return ErrSessionOpen
		}
		id, err := tx.InsertSession(ctx, session)
		if err != nil {
			return err
		}
		session.ID = id
		return nil
	})
	if err != nil {
		return Session{}, mapConflict(err)
	}
	return session, nil
}

// CloseInput carries the declared counts of a closing session.
type CloseInput struct {
	SessionID      int64
	DeclaredToMove float64
	SystemCash     float64
}

// Close finalises the session and posts the cash variance. The variance
// batch, the session row and the sync record commit together.
func (s *Service) Close(ctx context.Context, input CloseInput) (Session, error) {
	if input.DeclaredToMove < 0 || input.SystemCash < 0 {
		return Session{}, fmt.Errorf("%w: cash amounts cannot be negative", ErrValidation)
	}
	var closed Session
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.GetSessionForUpdate(ctx, input.SessionID)
		if err != nil {
			return err
		}
		if session.Status != StatusOpen {
			return ErrInvalidState
		}
		session.DeclaredToMove = ledger.Round2(input.DeclaredToMove)
		session.SystemCash = ledger.Round2(input.SystemCash)
		session.Variance = ledger.Round2(session.DeclaredToMove - session.SystemCash)
		session.Status = StatusClosed
		at := s.now()
		session.ClosedAt = &at
		if err := tx.CloseSession(ctx, session); err != nil {
			return err
		}
		if err := s.engine.PostTillClose(ctx, tx.UnitOfWork(), posting.TillSession{
			PublicID: session.PublicID,
			Number:   session.Number,
			OutletID: session.OutletID,
		}, session.DeclaredToMove, session.SystemCash); err != nil {
			return err
		}
		closed = session
		return nil
	})
	if err != nil {
		return Session{}, mapConflict(err)
	}
	return closed, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id int64) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

// ListOpen returns the outlet's open sessions.
func (s *Service) ListOpen(ctx context.Context, outletID int64) ([]Session, error) {
	return s.repo.ListOpen(ctx, outletID)
}

func mapConflict(err error) error {
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", posting.ErrOptimisticConflict, err)
	}
	return err
}
