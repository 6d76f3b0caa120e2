package posting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/ledger"
)

// ChainVoider reverses every posted leg of a document chain. It reads chain
// membership but never alters it beyond the voided flag; originals stay in
// the ledger untouched.
type ChainVoider struct {
	engine *Engine
	logger *slog.Logger
}

// NewChainVoider constructs the coordinator.
func NewChainVoider(engine *Engine, logger *slog.Logger) *ChainVoider {
	return &ChainVoider{engine: engine, logger: logger}
}

// VoidChain posts a void batch for every revision that reached the ledger
// and closes the chain for further postings. Each void is independently
// balanced, so revision order does not matter for correctness; revisions are
// still walked in order for readable audit trails.
func (c *ChainVoider) VoidChain(ctx context.Context, uow UnitOfWork, docs []PurchaseDoc) error {
	if len(docs) == 0 {
		return fmt.Errorf("%w: empty chain", ErrValidation)
	}
	ordered := orderByRevision(docs)
	chainID := ordered[0].ChainID
	lastPosted, voided, ok, err := uow.Chains().LastPosted(ctx, chainID)
	if err != nil {
		return err
	}
	if voided {
		return ErrOutOfSequence
	}
	prevTotal := 0.0
	for _, doc := range ordered {
		// GrandTotal is unsigned; the ledger carries return chains with
		// the opposite sign, so the void has to reverse that sign too.
		postedDelta := ledger.Round2(doc.PostedSign() * (doc.GrandTotal - prevTotal))
		prevTotal = doc.GrandTotal
		if !ok || doc.Revision > lastPosted {
			// Never reached the ledger; nothing to reverse.
			continue
		}
		if err := c.engine.PostPurchaseVoid(ctx, uow, doc, postedDelta); err != nil {
			return err
		}
	}
	return uow.Chains().MarkVoided(ctx, chainID)
}

// VoidChainWithReversals zeroes the chain's net posted position as of the
// cutoff with a single reversing batch. When invalidateOriginalsAfter is
// set, entries posted after the cutoff are flagged invalid so balance
// queries exclude them, without rewriting their rows. This gives an
// audit-correct as-of rollback: history before the cutoff stays intact.
func (c *ChainVoider) VoidChainWithReversals(ctx context.Context, uow UnitOfWork, docs []PurchaseDoc, cutoff time.Time, invalidateOriginalsAfter bool) error {
	if len(docs) == 0 {
		return fmt.Errorf("%w: empty chain", ErrValidation)
	}
	if cutoff.IsZero() {
		return fmt.Errorf("%w: cutoff required", ErrValidation)
	}
	ordered := orderByRevision(docs)
	head := ordered[0]
	position, err := uow.Ledger().NetPosition(ctx, head.PublicID, cutoff)
	if err != nil {
		return err
	}
	if len(position) > 0 {
		lines := make([]ledger.Line, 0, len(position))
		for _, accountID := range sortedAccountIDs(position) {
			net := position[accountID]
			if net > 0 {
				lines = append(lines, ledger.Line{AccountID: accountID, Credit: net})
			} else {
				lines = append(lines, ledger.Line{AccountID: accountID, Debit: -net})
			}
		}
		batch := ledger.Batch{
			DocPublicID: head.PublicID,
			DocNumber:   head.Number,
			SourceKind:  ledger.SourceChainReversal,
			PostedAt:    cutoff,
			Lines:       lines,
		}
		if err := uow.Ledger().InsertBatch(ctx, batch); err != nil {
			return err
		}
		c.engine.observe(ledger.SourceChainReversal)
	}
	if invalidateOriginalsAfter {
		flagged, err := uow.Ledger().MarkInvalidAfter(ctx, head.PublicID, cutoff)
		if err != nil {
			return err
		}
		if flagged > 0 && c.logger != nil {
			c.logger.Info("chain entries invalidated after cutoff",
				slog.String("doc_public_id", head.PublicID.String()),
				slog.Int64("entries", flagged))
		}
	}
	if err := uow.Chains().MarkVoided(ctx, head.ChainID); err != nil {
		return err
	}
	return c.engine.enqueuePurchase(ctx, uow, ordered[len(ordered)-1])
}

func orderByRevision(docs []PurchaseDoc) []PurchaseDoc {
	ordered := append([]PurchaseDoc(nil), docs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Revision < ordered[j].Revision })
	return ordered
}

func sortedAccountIDs(position map[int64]float64) []int64 {
	ids := make([]int64, 0, len(position))
	for id := range position {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
