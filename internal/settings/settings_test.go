package settings

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func snap(outletID int64, updatedAt time.Time) *Snapshot {
	return &Snapshot{
		Type:      "BarcodeLabelSettings",
		OutletID:  outletID,
		Payload:   json.RawMessage(`{"width":40}`),
		UpdatedAt: updatedAt,
	}
}

func TestResolveNewerBothNilReturnsDefault(t *testing.T) {
	def := json.RawMessage(`{"width":50}`)
	resolved := ResolveNewer(nil, nil, def)
	require.Equal(t, def, resolved.Payload)
	require.Zero(t, resolved.UpdatedAt)
}

func TestResolveNewerOnlyGlobal(t *testing.T) {
	global := snap(0, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolved := ResolveNewer(nil, global, nil)
	require.Equal(t, *global, resolved)
}

func TestResolveNewerOnlyOutlet(t *testing.T) {
	outlet := snap(7, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	resolved := ResolveNewer(outlet, nil, nil)
	require.Equal(t, *outlet, resolved)
}

func TestResolveNewerPicksNewerRow(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	outlet := snap(7, older)
	global := snap(0, newer)
	require.Equal(t, *global, ResolveNewer(outlet, global, nil))

	outlet = snap(7, newer)
	global = snap(0, older)
	require.Equal(t, *outlet, ResolveNewer(outlet, global, nil))
}

func TestResolveNewerTieGoesToOutlet(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	outlet := snap(7, at)
	global := snap(0, at)
	require.Equal(t, *outlet, ResolveNewer(outlet, global, nil))
}
