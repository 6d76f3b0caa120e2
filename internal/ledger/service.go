package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service answers balance questions by aggregating posted entries. It is
// read-only and has no side effects; callers must tolerate stale answers
// while a posting is in flight.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService builds the read service. The cache is optional.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// DocumentEntries lists every leg posted for a logical document.
func (s *Service) DocumentEntries(ctx context.Context, docPublicID uuid.UUID) ([]Entry, error) {
	return s.repo.EntriesForDocument(ctx, docPublicID)
}

// SupplierAPBalance returns the outstanding payable for a purchase document
// against the supplier's AP account: sum(credit) - sum(debit) across all
// revisions of the chain.
func (s *Service) SupplierAPBalance(ctx context.Context, docPublicID uuid.UUID, apAccountID int64) (float64, error) {
	loader := func(ctx context.Context) (float64, error) {
		debit, credit, err := s.repo.DocumentAccountBalance(ctx, docPublicID, apAccountID)
		if err != nil {
			return 0, err
		}
		return Round2(credit - debit), nil
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.FetchFloat(ctx, []string{"ledger", "ap", docPublicID.String(), fmt.Sprint(apAccountID)}, loader)
}

// AccountBalance returns debit minus credit for one account up to a cutoff.
func (s *Service) AccountBalance(ctx context.Context, accountID int64, asOf time.Time) (float64, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	loader := func(ctx context.Context) (float64, error) {
		return s.repo.AccountBalance(ctx, accountID, asOf)
	}
	if s.cache == nil {
		return loader(ctx)
	}
	key := []string{"ledger", "account", fmt.Sprint(accountID), asOf.UTC().Format(time.RFC3339)}
	return s.cache.FetchFloat(ctx, key, loader)
}

// InvalidateBalances drops cached balances after a posting commits.
// Best-effort: a failed bump only delays freshness until TTL expiry.
func (s *Service) InvalidateBalances(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("bump balance cache", slog.Any("error", err))
	}
}
