package outbox

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newHandlerServer(t *testing.T, store *memoryStore) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(discardLogger(), store, nil).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

// A polling peer works the full loop over HTTP: list what is pending, claim
// each record as sent, then acknowledge it.
func TestHandlerPollingConsumerFlow(t *testing.T) {
	store := newMemoryStore()
	id := store.add("Warehouse", "7")
	srv := newHandlerServer(t, store)

	resp, err := http.Get(srv.URL + "/pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Records []recordView `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Records, 1)
	require.Equal(t, id.String(), listing.Records[0].ID)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/records/"+id.String()+"/sent"))
	require.Equal(t, StatusSent, store.records[id].Status)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/records/"+id.String()+"/ack"))
	require.Equal(t, StatusAcknowledged, store.records[id].Status)
}

func TestHandlerAckBeforeSentIsNotFound(t *testing.T) {
	store := newMemoryStore()
	id := store.add("Warehouse", "7")
	srv := newHandlerServer(t, store)

	// Acknowledge is only valid from SENT; a PENDING record has to be
	// claimed first.
	require.Equal(t, http.StatusNotFound, post(t, srv.URL+"/records/"+id.String()+"/ack"))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/records/"+id.String()+"/sent"))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/records/"+id.String()+"/ack"))
}

func TestHandlerMarkSentUnknownRecord(t *testing.T) {
	srv := newHandlerServer(t, newMemoryStore())

	require.Equal(t, http.StatusNotFound, post(t, srv.URL+"/records/"+uuid.NewString()+"/sent"))
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/records/not-a-uuid/sent"))
}

func TestHandlerDispatchWithoutTrigger(t *testing.T) {
	srv := newHandlerServer(t, newMemoryStore())

	require.Equal(t, http.StatusServiceUnavailable, post(t, srv.URL+"/dispatch"))
}

func TestHandlerResetReturnsSentRecordToPending(t *testing.T) {
	store := newMemoryStore()
	id := store.add("Warehouse", "7")
	srv := newHandlerServer(t, store)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/records/"+id.String()+"/sent"))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/records/"+id.String()+"/reset"))
	require.Equal(t, StatusPending, store.records[id].Status)
}
