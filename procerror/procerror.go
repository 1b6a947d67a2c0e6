// Package procerror implements the processing error ledger: durable
// records of failures observed while handling messages, keyed to the
// entity they concern.
package procerror

import (
	"context"
	"time"
)

// ProcessingError is one recorded failure.
type ProcessingError struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	EntityID       string    `json:"entity_id"`
	ErrorTypeCode  string    `json:"error_type_code"`
	Message        string    `json:"message"`
	ProcessingStep string    `json:"processing_step"`
	StackTrace     string    `json:"stack_trace,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows error listings. Zero-valued fields are ignored.
type Filter struct {
	EntityID       string
	ErrorTypeCode  string
	ProcessingStep string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}

// Repository is the storage contract for the error ledger, tenant-scoped
// through the context like every other repository.
type Repository interface {
	// Create persists a new error record and returns its id. The record's
	// entity must exist; otherwise CONSTRAINT_VIOLATION.
	Create(ctx context.Context, e *ProcessingError) (string, error)

	// GetByID returns one record. Fails with NOT_FOUND when absent.
	GetByID(ctx context.Context, id string) (*ProcessingError, error)

	// ListByEntity returns every record for the entity, newest first.
	ListByEntity(ctx context.Context, entityID string) ([]*ProcessingError, error)

	// ListByFilter returns records matching the filter, newest first.
	ListByFilter(ctx context.Context, f Filter) ([]*ProcessingError, error)

	// Delete removes one record. Returns false when the id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteByEntity removes every record for the entity and returns the
	// count removed.
	DeleteByEntity(ctx context.Context, entityID string) (int, error)
}
