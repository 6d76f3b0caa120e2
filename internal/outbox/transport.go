package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTransport ships records to a sync peer as JSON over HTTP. Any non-2xx
// response is a delivery failure; the dispatcher resets the record and
// retries on a later run.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport builds a transport for the peer endpoint.
func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type wireRecord struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityKey  string          `json:"entity_key"`
	Payload    json.RawMessage `json:"payload"`
	Position   int64           `json:"position"`
}

// Send delivers one record.
func (t *HTTPTransport) Send(ctx context.Context, record Record) error {
	body, err := json.Marshal(wireRecord{
		ID:         record.ID.String(),
		EntityType: record.EntityType,
		EntityKey:  record.EntityKey,
		Payload:    record.Payload,
		Position:   record.Position,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("outbox: peer returned %d", resp.StatusCode)
	}
	return nil
}
