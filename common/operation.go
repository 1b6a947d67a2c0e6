package common

import (
	"sync"
	"time"
)

// OperationStatus represents the state of a traced operation
type OperationStatus string

const (
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// Operation represents one traced enter/exit span
type Operation struct {
	ID          string                 `json:"id"`
	Component   string                 `json:"component"`
	Name        string                 `json:"name"`
	Status      OperationStatus        `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    time.Duration          `json:"duration,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// OperationStats provides aggregated statistics over traced operations
type OperationStats struct {
	TotalOperations int                     `json:"total_operations"`
	ByStatus        map[OperationStatus]int `json:"by_status"`
	ByName          map[string]int          `json:"by_name"`
	AverageDuration time.Duration           `json:"average_duration,omitempty"`
}

// OperationTracker records enter/exit spans for service operations. It keeps
// the last MaxOperations spans in memory, evicting the oldest first.
type OperationTracker struct {
	mu            sync.RWMutex
	operations    map[string]*Operation
	maxOperations int
	component     string
	logger        *ContextLogger
}

// TrackerConfig configures an OperationTracker
type TrackerConfig struct {
	Component     string
	MaxOperations int // Keep last N operations, default 1000
	Logger        *ContextLogger
}

// NewOperationTracker creates a new operation tracker
func NewOperationTracker(cfg TrackerConfig) *OperationTracker {
	if cfg.MaxOperations == 0 {
		cfg.MaxOperations = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = FrameworkLogger(cfg.Component)
	}
	return &OperationTracker{
		operations:    make(map[string]*Operation),
		maxOperations: cfg.MaxOperations,
		component:     cfg.Component,
		logger:        cfg.Logger,
	}
}

// Enter starts tracing an operation and logs the entry at debug level.
func (t *OperationTracker) Enter(id, name string, metadata map[string]interface{}) *Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.operations) >= t.maxOperations {
		t.evictOldest()
	}

	op := &Operation{
		ID:        id,
		Component: t.component,
		Name:      name,
		Status:    OperationRunning,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
	t.operations[id] = op

	t.logger.WithFields(map[string]interface{}{
		"operation":    name,
		"operation_id": id,
	}).Debug("operation started")

	return op
}

// Exit completes a traced operation, recording duration and outcome.
func (t *OperationTracker) Exit(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, exists := t.operations[id]
	if !exists {
		return
	}

	now := time.Now()
	op.CompletedAt = &now
	op.Duration = now.Sub(op.StartedAt)

	fields := map[string]interface{}{
		"operation":    op.Name,
		"operation_id": id,
		"duration_ms":  op.Duration.Milliseconds(),
	}

	if err != nil {
		op.Status = OperationFailed
		op.Error = err.Error()
		t.logger.WithFields(fields).WithError(err).Warn("operation failed")
	} else {
		op.Status = OperationCompleted
		t.logger.WithFields(fields).Debug("operation completed")
	}
}

// Trace wraps fn in an Enter/Exit pair and returns fn's error.
func (t *OperationTracker) Trace(id, name string, fn func() error) error {
	t.Enter(id, name, nil)
	err := fn()
	t.Exit(id, err)
	return err
}

// Get retrieves a traced operation by ID, or nil when unknown. The returned
// value is a copy.
func (t *OperationTracker) Get(id string) *Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if op, exists := t.operations[id]; exists {
		opCopy := *op
		return &opCopy
	}
	return nil
}

// Stats returns aggregated statistics over the retained operations
func (t *OperationTracker) Stats() *OperationStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := &OperationStats{
		TotalOperations: len(t.operations),
		ByStatus:        make(map[OperationStatus]int),
		ByName:          make(map[string]int),
	}

	var totalDuration time.Duration
	var completedCount int

	for _, op := range t.operations {
		stats.ByStatus[op.Status]++
		stats.ByName[op.Name]++

		if op.CompletedAt != nil {
			totalDuration += op.Duration
			completedCount++
		}
	}

	if completedCount > 0 {
		stats.AverageDuration = totalDuration / time.Duration(completedCount)
	}

	return stats
}

// evictOldest removes the oldest operation (must be called with lock held)
func (t *OperationTracker) evictOldest() {
	var oldestID string
	var oldestTime time.Time

	for id, op := range t.operations {
		if oldestID == "" || op.StartedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = op.StartedAt
		}
	}

	if oldestID != "" {
		delete(t.operations, oldestID)
	}
}
