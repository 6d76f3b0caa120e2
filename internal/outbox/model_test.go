package outbox

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDeterministicIDStable(t *testing.T) {
	a := DeterministicID("Purchase", "7b0c8f2e-3a7e-4a2a-9c3e-2f9a1d4b5c6d")
	b := DeterministicID("Purchase", "7b0c8f2e-3a7e-4a2a-9c3e-2f9a1d4b5c6d")
	require.Equal(t, a, b)
	require.NotEqual(t, uuid.Nil, a)
}

func TestDeterministicIDSeparatesTypeAndKey(t *testing.T) {
	purchase := DeterministicID("Purchase", "k-1")
	payment := DeterministicID("PurchasePayment", "k-1")
	other := DeterministicID("Purchase", "k-2")
	require.NotEqual(t, purchase, payment)
	require.NotEqual(t, purchase, other)
}

func TestDeterministicIDNormalizesUnicodeKeys(t *testing.T) {
	composed := DeterministicID("Supplier", "café")
	decomposed := DeterministicID("Supplier", "café")
	require.Equal(t, composed, decomposed)
}
