package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func validBatch() Batch {
	return Batch{
		DocPublicID: uuid.MustParse("6f9619ff-8b86-4011-b42d-00c04fc964ff"),
		DocNumber:   "PUR-1001",
		SourceKind:  SourcePurchaseCreate,
		PostedAt:    time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		Lines: []Line{
			{AccountID: 1, Debit: 1500},
			{AccountID: 2, Credit: 1500},
		},
	}
}

func TestBatchValidateAccepts(t *testing.T) {
	require.NoError(t, validBatch().Validate())
}

func TestBatchValidateRejectsUnbalanced(t *testing.T) {
	b := validBatch()
	b.Lines[1].Credit = 1499.99
	require.ErrorIs(t, b.Validate(), ErrUnbalanced)
}

func TestBatchValidateBalancesAtTwoDecimals(t *testing.T) {
	// The difference below two decimals must not fail the batch.
	b := validBatch()
	b.Lines[0].Debit = 1500.0000001
	require.NoError(t, b.Validate())
}

func TestBatchValidateRejectsSingleLine(t *testing.T) {
	b := validBatch()
	b.Lines = b.Lines[:1]
	require.ErrorIs(t, b.Validate(), ErrTooFewLines)
}

func TestBatchValidateRejectsNegativeLeg(t *testing.T) {
	b := validBatch()
	b.Lines[0].Debit = -100
	b.Lines[1].Credit = -100
	require.Error(t, b.Validate())
}

func TestBatchValidateRejectsTwoSidedLeg(t *testing.T) {
	b := validBatch()
	b.Lines[0].Credit = 10
	b.Lines[1].Debit = 10
	require.Error(t, b.Validate())
}

func TestBatchValidateRejectsMissingAccount(t *testing.T) {
	b := validBatch()
	b.Lines[0].AccountID = 0
	require.Error(t, b.Validate())
}

func TestBatchValidateRejectsMissingHeaderFields(t *testing.T) {
	b := validBatch()
	b.DocPublicID = uuid.Nil
	require.Error(t, b.Validate())

	b = validBatch()
	b.SourceKind = ""
	require.Error(t, b.Validate())

	b = validBatch()
	b.PostedAt = time.Time{}
	require.Error(t, b.Validate())
}

func TestReversedMirrorsEveryLeg(t *testing.T) {
	b := validBatch()
	at := time.Date(2026, 2, 12, 17, 30, 0, 0, time.UTC)
	rev := b.Reversed(SourcePurchaseVoid, at)

	require.Equal(t, b.DocPublicID, rev.DocPublicID)
	require.Equal(t, SourcePurchaseVoid, rev.SourceKind)
	require.Equal(t, at, rev.PostedAt)
	require.Len(t, rev.Lines, 2)
	require.Equal(t, float64(0), rev.Lines[0].Debit)
	require.Equal(t, float64(1500), rev.Lines[0].Credit)
	require.Equal(t, float64(1500), rev.Lines[1].Debit)
	require.NoError(t, rev.Validate())
}

func TestRound2(t *testing.T) {
	require.Equal(t, 10.01, Round2(10.014))
	require.Equal(t, -10.02, Round2(-10.016))
	require.Equal(t, 0.1, Round2(0.1))
	require.Equal(t, 100.0, Round2(99.999))
}
