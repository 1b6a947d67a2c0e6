// Package processor defines the processor contract and the execution
// handler that wraps every processor invocation with message validation,
// entity persistence, ledger writes, and error classification.
package processor

import (
	"context"
	"time"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
	"github.com/evocrestco/api-exchange-core-sub000/message"
)

// Status classifies the outcome of one processor invocation.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailure        Status = "FAILURE"
	StatusSkipped        Status = "SKIPPED"
)

// MaxBackoffSeconds caps the exponential retry delay.
const MaxBackoffSeconds = 300

// Processor is the contract every pipeline step implements.
type Processor interface {
	Process(ctx context.Context, msg *message.Message) (*ProcessingResult, error)
}

// MessageValidator lets a processor reject an envelope before Process runs.
// Absent, every message is considered valid.
type MessageValidator interface {
	ValidateMessage(msg *message.Message) bool
}

// RetryPolicy lets a processor decide whether a failure is worth retrying.
// Absent, everything except validation errors is retryable.
type RetryPolicy interface {
	CanRetry(err error) bool
}

// Canonicalizer converts external payloads into canonical form. A processor
// implementing it is treated as a source processor: its output is persisted
// through the entity write path after a successful Process.
type Canonicalizer interface {
	ToCanonical(externalData, metadata map[string]interface{}) (map[string]interface{}, error)
}

// InfoProvider supplies descriptive metadata attached to every result.
type InfoProvider interface {
	ProcessorInfo() map[string]interface{}
}

// Config is the full per-processor configuration: the entity write path
// settings plus handler-level flags.
type Config struct {
	entity.ProcessingConfig `mapstructure:",squash"`

	// IsTerminalProcessor marks the end of a pipeline; terminal processors
	// are not expected to emit output messages.
	IsTerminalProcessor bool `json:"is_terminal_processor" mapstructure:"is_terminal_processor"`

	// CustomConfig carries processor-specific settings opaque to the
	// framework.
	CustomConfig map[string]interface{} `json:"custom_config,omitempty" mapstructure:"custom_config"`
}

// ProcessingResult is returned by every processor invocation.
type ProcessingResult struct {
	Status               Status                 `json:"status"`
	Success              bool                   `json:"success"`
	OutputMessages       []*message.Message     `json:"output_messages,omitempty"`
	EntitiesCreated      []string               `json:"entities_created,omitempty"`
	EntitiesUpdated      []string               `json:"entities_updated,omitempty"`
	ProcessingMetadata   map[string]interface{} `json:"processing_metadata,omitempty"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	ErrorCode            common.ErrorCode       `json:"error_code,omitempty"`
	ErrorDetails         map[string]interface{} `json:"error_details,omitempty"`
	CanRetry             bool                   `json:"can_retry"`
	RetryAfterSeconds    int                    `json:"retry_after_seconds,omitempty"`
	RoutingInfo          map[string]interface{} `json:"routing_info,omitempty"`
	ProcessingDurationMs int64                  `json:"processing_duration_ms"`
	ProcessorInfo        map[string]interface{} `json:"processor_info,omitempty"`
}

// NewSuccessResult creates a SUCCESS result.
func NewSuccessResult() *ProcessingResult {
	return &ProcessingResult{
		Status:             StatusSuccess,
		Success:            true,
		ProcessingMetadata: make(map[string]interface{}),
	}
}

// NewFailureResult creates a FAILURE result with the given code and
// message.
func NewFailureResult(code common.ErrorCode, errMessage string) *ProcessingResult {
	return &ProcessingResult{
		Status:       StatusFailure,
		ErrorCode:    code,
		ErrorMessage: errMessage,
	}
}

// AddOutputMessage appends a successor envelope.
func (r *ProcessingResult) AddOutputMessage(msg *message.Message) {
	r.OutputMessages = append(r.OutputMessages, msg)
}

// WithRouting sets one routing hint. Returns the result for chaining.
func (r *ProcessingResult) WithRouting(key string, value interface{}) *ProcessingResult {
	if r.RoutingInfo == nil {
		r.RoutingInfo = make(map[string]interface{})
	}
	r.RoutingInfo[key] = value
	return r
}

// Backoff returns the retry delay in seconds for the given retry count:
// 2^retryCount capped at MaxBackoffSeconds.
func Backoff(retryCount int) int {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^9 already exceeds the cap.
	if retryCount >= 9 {
		return MaxBackoffSeconds
	}
	delay := 1 << uint(retryCount)
	if delay > MaxBackoffSeconds {
		return MaxBackoffSeconds
	}
	return delay
}

// elapsedMs measures wall time since start in whole milliseconds, never
// negative.
func elapsedMs(start time.Time) int64 {
	d := time.Since(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
