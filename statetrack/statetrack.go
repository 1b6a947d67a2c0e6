// Package statetrack implements the append-only state transition ledger:
// per-entity ordered lifecycle history with derived queries for current
// state, entities in a state, stuck entities, and aggregate statistics.
//
// Transitions are never updated or deleted; they only disappear when their
// entity or tenant is removed. Ordering within one entity is carried by
// sequence_number, assigned by the storage layer and unique per entity.
package statetrack

import (
	"context"
	"time"
)

// Lifecycle state labels. The set is open: processors may record any label,
// these are the ones the framework itself uses.
const (
	StateReceived       = "RECEIVED"
	StateProcessing     = "PROCESSING"
	StateCompleted      = "COMPLETED"
	StateFailed         = "FAILED"
	StateSystemError    = "SYSTEM_ERROR"
	StateValidated      = "VALIDATED"
	StateTransformed    = "TRANSFORMED"
	StateEnriched       = "ENRICHED"
	StateReadyToDeliver = "READY_TO_DELIVER"
	StateDelivered      = "DELIVERED"

	StateValidationError     = "VALIDATION_ERROR"
	StateTransformationError = "TRANSFORMATION_ERROR"
	StateDeliveryError       = "DELIVERY_ERROR"

	StateUpdateReceived   = "UPDATE_RECEIVED"
	StateUpdateProcessing = "UPDATE_PROCESSING"
	StateUpdateValidated  = "UPDATE_VALIDATED"
	StateUpdateDelivered  = "UPDATE_DELIVERED"
	StateUpdateCompleted  = "UPDATE_COMPLETED"
	StateUpdateError      = "UPDATE_ERROR"

	StateDuplicateDetected = "DUPLICATE_DETECTED"
	StateManuallyResolved  = "MANUALLY_RESOLVED"
	StateOnHold            = "ON_HOLD"
	StatePendingReview     = "PENDING_REVIEW"
)

// TransitionType classifies why a transition happened.
type TransitionType string

const (
	TransitionNormal   TransitionType = "NORMAL"
	TransitionError    TransitionType = "ERROR"
	TransitionRecovery TransitionType = "RECOVERY"
	TransitionManual   TransitionType = "MANUAL"
	TransitionTimeout  TransitionType = "TIMEOUT"
	TransitionRetry    TransitionType = "RETRY"
)

// StateTransition is one immutable row of the ledger.
type StateTransition struct {
	ID                 string                 `json:"id"`
	TenantID           string                 `json:"tenant_id"`
	EntityID           string                 `json:"entity_id"`
	FromState          string                 `json:"from_state"`
	ToState            string                 `json:"to_state"`
	Actor              string                 `json:"actor"`
	TransitionType     TransitionType         `json:"transition_type"`
	SequenceNumber     int                    `json:"sequence_number"`
	ProcessorData      map[string]interface{} `json:"processor_data,omitempty"`
	QueueSource        string                 `json:"queue_source,omitempty"`
	QueueDestination   string                 `json:"queue_destination,omitempty"`
	TransitionDuration *int64                 `json:"transition_duration,omitempty"`
	Notes              string                 `json:"notes,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// Clone returns a copy with an independent processor data map.
func (t *StateTransition) Clone() *StateTransition {
	c := *t
	if t.ProcessorData != nil {
		c.ProcessorData = make(map[string]interface{}, len(t.ProcessorData))
		for k, v := range t.ProcessorData {
			c.ProcessorData[k] = v
		}
	}
	if t.TransitionDuration != nil {
		d := *t.TransitionDuration
		c.TransitionDuration = &d
	}
	return &c
}

// Repository is the storage contract for the ledger. Every operation is
// scoped to the tenant carried by the context. Record assigns id,
// sequence_number (gapless per entity, starting at 1), and created_at;
// concurrent writers to the same entity race at the (entity_id,
// sequence_number) unique constraint and the loser fails with DUPLICATE.
type Repository interface {
	Record(ctx context.Context, t *StateTransition) (string, error)

	// ListByEntity returns the full history ordered by sequence_number
	// ascending. An unknown entity yields an empty slice.
	ListByEntity(ctx context.Context, entityID string) ([]*StateTransition, error)

	// GetLatest returns the highest-sequence transition for the entity.
	// Fails with NOT_FOUND when the entity has no history.
	GetLatest(ctx context.Context, entityID string) (*StateTransition, error)

	// ListLatestInState returns, for entities whose most recent transition
	// landed in state, that latest transition. Ordered by created_at
	// ascending so the longest-waiting entities come first.
	ListLatestInState(ctx context.Context, state string, limit, offset int) ([]*StateTransition, error)

	// ListByTimeRange returns transitions with created_at inside the
	// half-open range. Nil bounds are unbounded.
	ListByTimeRange(ctx context.Context, start, end *time.Time) ([]*StateTransition, error)

	// ListByTransition returns transitions matching from_state and
	// to_state exactly.
	ListByTransition(ctx context.Context, fromState, toState string) ([]*StateTransition, error)
}
