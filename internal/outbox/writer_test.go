package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeOutboxDB backs the writer's statements with an in-memory table so the
// upsert choreography can be exercised without Postgres. It enforces the
// same primary key the real table has.
type fakeOutboxRow struct {
	entityType string
	entityKey  string
	payload    []byte
	status     Status
}

type fakeOutboxDB struct {
	rows  map[uuid.UUID]*fakeOutboxRow
	order []uuid.UUID
}

func newFakeOutboxDB() *fakeOutboxDB {
	return &fakeOutboxDB{rows: make(map[uuid.UUID]*fakeOutboxRow)}
}

func (f *fakeOutboxDB) insert(id uuid.UUID, entityType, entityKey string, payload []byte) {
	f.rows[id] = &fakeOutboxRow{entityType: entityType, entityKey: entityKey, payload: payload, status: StatusPending}
	f.order = append(f.order, id)
}

func (f *fakeOutboxDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.HasPrefix(sql, "UPDATE outbox_records"):
		entityType, entityKey := args[0].(string), args[1].(string)
		payload := args[2].([]byte)
		affected := 0
		for _, id := range f.order {
			row := f.rows[id]
			if row.entityType == entityType && row.entityKey == entityKey && row.status == StatusPending {
				row.payload = payload
				affected++
			}
		}
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", affected)), nil
	case strings.Contains(sql, "ON CONFLICT (id) DO NOTHING"):
		id := args[0].(uuid.UUID)
		if _, taken := f.rows[id]; taken {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.insert(id, args[1].(string), args[2].(string), args[3].([]byte))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	default:
		id := args[0].(uuid.UUID)
		if _, taken := f.rows[id]; taken {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "outbox_records_pkey"}
		}
		f.insert(id, args[1].(string), args[2].(string), args[3].([]byte))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
}

func (f *fakeOutboxDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (f *fakeOutboxDB) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected query")
}

func TestEnqueueUpsertCollapsesWhilePending(t *testing.T) {
	w := NewWriter()
	dbtx := newFakeOutboxDB()
	ctx := context.Background()

	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Warehouse", "7", map[string]any{"qty": 1}))
	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Warehouse", "7", map[string]any{"qty": 2}))

	// Two changes before dispatch collapse into one record carrying the
	// latest state, under the deterministic id.
	require.Len(t, dbtx.rows, 1)
	row := dbtx.rows[DeterministicID("Warehouse", "7")]
	require.NotNil(t, row)
	require.Equal(t, StatusPending, row.status)
	require.JSONEq(t, `{"qty":2}`, string(row.payload))
}

func TestEnqueueUpsertInsertsFreshRowOnceSent(t *testing.T) {
	w := NewWriter()
	dbtx := newFakeOutboxDB()
	ctx := context.Background()

	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Warehouse", "7", map[string]any{"qty": 1}))
	detID := DeterministicID("Warehouse", "7")
	dbtx.rows[detID].status = StatusSent

	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Warehouse", "7", map[string]any{"qty": 2}))

	// The in-flight record stays untouched; the new change rides a fresh
	// PENDING record with its own id.
	require.Len(t, dbtx.rows, 2)
	require.Equal(t, StatusSent, dbtx.rows[detID].status)
	require.JSONEq(t, `{"qty":1}`, string(dbtx.rows[detID].payload))
	for id, row := range dbtx.rows {
		if id == detID {
			continue
		}
		require.Equal(t, StatusPending, row.status)
		require.JSONEq(t, `{"qty":2}`, string(row.payload))
	}
}

func TestEnqueueUpsertSeparatesEntities(t *testing.T) {
	w := NewWriter()
	dbtx := newFakeOutboxDB()
	ctx := context.Background()

	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Warehouse", "7", map[string]any{"qty": 1}))
	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Warehouse", "8", map[string]any{"qty": 1}))
	require.NoError(t, w.EnqueueUpsert(ctx, dbtx, "Supplier", "7", map[string]any{"name": "x"}))

	require.Len(t, dbtx.rows, 3)
}

func TestEnqueueUpsertRejectsMissingIdentity(t *testing.T) {
	w := NewWriter()
	dbtx := newFakeOutboxDB()

	require.Error(t, w.EnqueueUpsert(context.Background(), dbtx, "", "7", nil))
	require.Error(t, w.EnqueueUpsert(context.Background(), dbtx, "Warehouse", "", nil))
	require.Empty(t, dbtx.rows)
}
