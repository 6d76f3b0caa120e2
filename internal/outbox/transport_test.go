package outbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportSendsWireRecord(t *testing.T) {
	var got wireRecord
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	record := Record{
		ID:         uuid.MustParse("3d1f7f3e-9c4f-4b3a-8f1d-2a6b5c4d3e2f"),
		EntityType: "Purchase",
		EntityKey:  "PUR-1001",
		Payload:    []byte(`{"grand_total":1500}`),
		Position:   7,
	}
	transport := NewHTTPTransport(server.URL, time.Second)
	require.NoError(t, transport.Send(context.Background(), record))

	require.Equal(t, record.ID.String(), got.ID)
	require.Equal(t, "Purchase", got.EntityType)
	require.Equal(t, "PUR-1001", got.EntityKey)
	require.JSONEq(t, `{"grand_total":1500}`, string(got.Payload))
	require.Equal(t, int64(7), got.Position)
}

func TestHTTPTransportRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	transport := NewHTTPTransport(server.URL, time.Second)
	err := transport.Send(context.Background(), Record{ID: uuid.New(), Payload: []byte(`{}`)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
