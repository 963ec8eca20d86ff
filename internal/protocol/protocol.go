// Package protocol defines the wire contract between the offline agent and
// the reconciliation endpoint, plus the shared transient/permanent error
// classification both sides agree on.
package protocol

import (
	"errors"
	"fmt"

	"shopsync/internal/models"
)

// Item result statuses.
const (
	StatusAcknowledged = "acknowledged"
	StatusRejected     = "rejected"
)

// Transient reason codes. Everything else in a rejection is permanent.
const (
	ReasonServerBusy   = "SERVER_BUSY"
	ReasonStorageError = "STORAGE_ERROR"
)

// SyncRequest is an ordered batch of idempotency-tagged mutations. Order
// matters: adjustStock deltas do not commute with create/delete for the
// same entity, so the server applies and answers in request order.
type SyncRequest struct {
	Mutations []models.MutationRecord `json:"mutations"`
}

// ItemResult is the per-mutation outcome. Reason is set only on rejection.
type ItemResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// SyncResponse mirrors the request ordering in Results.
type SyncResponse struct {
	Success bool         `json:"success"`
	Results []ItemResult `json:"results"`
}

// TransientError marks a failure worth retrying with backoff: network
// drops, timeouts, or the server shedding load.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransient reports whether err should be retried by the scheduler.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TransientReason reports whether a rejection reason code is retryable.
func TransientReason(reason string) bool {
	switch reason {
	case ReasonServerBusy, ReasonStorageError:
		return true
	}
	return false
}

// Acknowledged builds an ack result for a key.
func Acknowledged(key string) ItemResult {
	return ItemResult{IdempotencyKey: key, Status: StatusAcknowledged}
}

// Rejected builds a rejection result with a reason code.
func Rejected(key, reason string) ItemResult {
	return ItemResult{IdempotencyKey: key, Status: StatusRejected, Reason: reason}
}
