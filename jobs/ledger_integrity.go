package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/observability"
)

// NewLedgerIntegrityScanHandler processes TaskLedgerIntegrityScan tasks. It
// recomputes the debit/credit sum of every posting batch (entries sharing a
// document public id and posting timestamp) and reports batches that no
// longer balance at two decimals. Entries flagged invalid are part of their
// batch and stay in the check.
func NewLedgerIntegrityScanHandler(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.PostingMetrics) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		rows, err := pool.Query(ctx, `SELECT doc_public_id, posted_at, source_kind,
ROUND(SUM(debit)::numeric, 2) AS debit, ROUND(SUM(credit)::numeric, 2) AS credit
FROM ledger_entries
GROUP BY doc_public_id, posted_at, source_kind
HAVING ROUND(SUM(debit)::numeric, 2) <> ROUND(SUM(credit)::numeric, 2)`)
		if err != nil {
			return err
		}
		defer rows.Close()
		violations := 0
		for rows.Next() {
			var docPublicID, sourceKind string
			var postedAt time.Time
			var debit, credit float64
			if err := rows.Scan(&docPublicID, &postedAt, &sourceKind, &debit, &credit); err != nil {
				return err
			}
			violations++
			logger.Error("ledger batch out of balance",
				slog.String("doc_public_id", docPublicID),
				slog.String("source_kind", sourceKind),
				slog.Time("posted_at", postedAt),
				slog.Float64("debit", debit),
				slog.Float64("credit", credit))
			if metrics != nil {
				metrics.ObserveIntegrityFailure()
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if violations == 0 {
			logger.Debug("ledger integrity scan clean")
		}
		return nil
	}
}
