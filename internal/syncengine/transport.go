package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"shopsync/internal/protocol"
)

// HTTPReconciler submits batches to the server's POST /sync endpoint.
type HTTPReconciler struct {
	BaseURL  string
	TenantID string
	Client   *http.Client
}

// NewHTTPReconciler builds a reconciler against baseURL. client may be nil.
func NewHTTPReconciler(baseURL, tenantID string, client *http.Client) *HTTPReconciler {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPReconciler{BaseURL: baseURL, TenantID: tenantID, Client: client}
}

// Reconcile posts the batch. Connection errors, timeouts, 429 and 5xx are
// transient; a decoded response carries per-item outcomes. A timeout is
// never treated as success or as permanent failure: the idempotency keys
// make resending the same batch safe.
func (r *HTTPReconciler) Reconcile(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.TenantID != "" {
		httpReq.Header.Set("X-Tenant-ID", r.TenantID)
	}

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return nil, &protocol.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &protocol.TransientError{Cause: fmt.Errorf("server returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync endpoint returned %d", resp.StatusCode)
	}

	var out protocol.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &protocol.TransientError{Cause: fmt.Errorf("failed to decode sync response: %w", err)}
	}
	return &out, nil
}
