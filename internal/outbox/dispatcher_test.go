package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	records map[uuid.UUID]*Record
	order   []uuid.UUID
	stale   []Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[uuid.UUID]*Record{}}
}

func (s *memoryStore) add(entityType, key string) uuid.UUID {
	id := DeterministicID(entityType, key)
	s.records[id] = &Record{
		ID:         id,
		EntityType: entityType,
		EntityKey:  key,
		Payload:    []byte(`{}`),
		Status:     StatusPending,
		Position:   int64(len(s.order) + 1),
	}
	s.order = append(s.order, id)
	return id
}

func (s *memoryStore) ListPending(_ context.Context, limit int) ([]Record, error) {
	out := append([]Record(nil), s.stale...)
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Status != StatusPending {
			continue
		}
		out = append(out, *rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) transition(id uuid.UUID, from, to Status) error {
	rec, ok := s.records[id]
	if !ok || rec.Status != from {
		return ErrRecordNotFound
	}
	rec.Status = to
	return nil
}

func (s *memoryStore) MarkSent(_ context.Context, id uuid.UUID) error {
	if err := s.transition(id, StatusPending, StatusSent); err != nil {
		return err
	}
	s.records[id].Attempts++
	return nil
}

func (s *memoryStore) MarkAcknowledged(_ context.Context, id uuid.UUID) error {
	return s.transition(id, StatusSent, StatusAcknowledged)
}

func (s *memoryStore) ResetPending(_ context.Context, id uuid.UUID) error {
	return s.transition(id, StatusSent, StatusPending)
}

func (s *memoryStore) PurgeAcknowledged(_ context.Context, _ time.Duration) (int64, error) {
	var purged int64
	for id, rec := range s.records {
		if rec.Status == StatusAcknowledged {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}

type fakeTransport struct {
	failKeys map[string]bool
	sent     []string
}

func (t *fakeTransport) Send(_ context.Context, record Record) error {
	if t.failKeys[record.EntityKey] {
		return errors.New("peer unreachable")
	}
	t.sent = append(t.sent, record.EntityType+":"+record.EntityKey)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatcherDeliversPendingInOrder(t *testing.T) {
	store := newMemoryStore()
	store.add("Purchase", "a")
	store.add("Purchase", "b")
	store.add("TillSession", "c")
	transport := &fakeTransport{}

	d := NewDispatcher(store, transport, discardLogger(), 50)
	delivered, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, delivered)
	require.Equal(t, []string{"Purchase:a", "Purchase:b", "TillSession:c"}, transport.sent)
	for _, rec := range store.records {
		require.Equal(t, StatusAcknowledged, rec.Status)
		require.Equal(t, 1, rec.Attempts)
	}
}

func TestDispatcherResetsFailedDelivery(t *testing.T) {
	store := newMemoryStore()
	store.add("Purchase", "ok-1")
	failing := store.add("Purchase", "broken")
	store.add("Purchase", "ok-2")
	transport := &fakeTransport{failKeys: map[string]bool{"broken": true}}

	d := NewDispatcher(store, transport, discardLogger(), 50)
	delivered, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, delivered)
	require.Equal(t, StatusPending, store.records[failing].Status)
	require.Equal(t, 1, store.records[failing].Attempts)

	// The next run retries the failed record once the peer recovers.
	transport.failKeys = nil
	delivered, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, StatusAcknowledged, store.records[failing].Status)
	require.Equal(t, 2, store.records[failing].Attempts)
}

func TestDispatcherSkipsRecordsClaimedElsewhere(t *testing.T) {
	store := newMemoryStore()
	store.add("Purchase", "mine")
	// A concurrent dispatcher claimed this record between our ListPending
	// and MarkSent: the listing is stale and MarkSent must miss.
	store.stale = append(store.stale, Record{
		ID:         uuid.New(),
		EntityType: "Purchase",
		EntityKey:  "claimed",
		Status:     StatusPending,
	})
	transport := &fakeTransport{}

	d := NewDispatcher(store, transport, discardLogger(), 50)
	delivered, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, []string{"Purchase:mine"}, transport.sent)
}

func TestDispatcherHonorsBatchSize(t *testing.T) {
	store := newMemoryStore()
	for i := 0; i < 5; i++ {
		store.add("Purchase", fmt.Sprintf("doc-%d", i))
	}
	transport := &fakeTransport{}

	d := NewDispatcher(store, transport, discardLogger(), 2)
	delivered, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, delivered)

	delivered, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, delivered)

	delivered, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
}

func TestDispatcherStopsOnCancelledContext(t *testing.T) {
	store := newMemoryStore()
	store.add("Purchase", "a")
	transport := &fakeTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(store, transport, discardLogger(), 50)
	delivered, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, delivered)
}
