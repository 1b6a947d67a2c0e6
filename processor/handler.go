package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
	"github.com/evocrestco/api-exchange-core-sub000/message"
	"github.com/evocrestco/api-exchange-core-sub000/procerror"
	"github.com/evocrestco/api-exchange-core-sub000/statetrack"
)

// EntityPersister is the slice of the entity write path the handler uses.
type EntityPersister interface {
	ProcessEntity(ctx context.Context, req entity.ProcessEntityRequest) (*entity.ProcessingOutcome, error)
}

// StateRecorder is the slice of the state ledger the handler uses.
type StateRecorder interface {
	RecordTransition(ctx context.Context, req statetrack.RecordTransitionRequest) (string, error)
}

// ErrorRecorder is the slice of the error ledger the handler uses.
type ErrorRecorder interface {
	RecordError(ctx context.Context, req procerror.RecordErrorRequest) (string, error)
}

// Handler wraps a processor with the execution contract: validation,
// persistence for source processors, ledger writes, timing, and error
// classification. Ledger writes are best-effort; their failure never fails
// the message.
type Handler struct {
	processor Processor
	cfg       Config
	persister EntityPersister
	states    StateRecorder
	errors    ErrorRecorder
	logger    *common.ContextLogger
}

// NewHandler wires a handler. persister, states, and errors may be nil;
// the corresponding steps are skipped.
func NewHandler(p Processor, cfg Config, persister EntityPersister, states StateRecorder, errorLedger ErrorRecorder, logger *common.ContextLogger) *Handler {
	if logger == nil {
		logger = common.FrameworkLogger("processor-handler")
	}
	if cfg.ProcessorName == "" {
		cfg.ProcessorName = "unnamed-processor"
	}
	return &Handler{
		processor: p,
		cfg:       cfg,
		persister: persister,
		states:    states,
		errors:    errorLedger,
		logger:    logger,
	}
}

// isSource reports whether the wrapped processor ingests external data. A
// Canonicalizer implementation implies it regardless of configuration.
func (h *Handler) isSource() bool {
	if h.cfg.IsSourceProcessor {
		return true
	}
	_, ok := h.processor.(Canonicalizer)
	return ok
}

// Execute runs one message through the wrapped processor. It never panics
// outward and never returns a Go error; every outcome is a
// ProcessingResult.
func (h *Handler) Execute(ctx context.Context, msg *message.Message) *ProcessingResult {
	start := time.Now()
	entityID := msg.EntityReference.EntityID
	isSource := h.isSource()

	log := h.logger.WithFields(map[string]interface{}{
		"processor":      h.cfg.ProcessorName,
		"message_id":     msg.MessageID,
		"correlation_id": msg.CorrelationID,
	})

	// A non-source processor cannot work without a persisted entity. This
	// message can never succeed, so it goes straight to the dead letter
	// queue without touching the ledgers.
	if !isSource && entityID == "" {
		log.Warn("message carries no entity id, dead-lettering")
		result := NewFailureResult(common.CodeMissingEntityID, "message carries no entity id")
		result.CanRetry = false
		result.WithRouting("dead_letter", true)
		return h.finish(result, start)
	}

	if entityID != "" {
		h.recordState(ctx, entityID, statetrack.StateReceived, statetrack.StateProcessing, statetrack.TransitionNormal, msg)
	}

	if v, ok := h.processor.(MessageValidator); ok && !v.ValidateMessage(msg) {
		log.Warn("message rejected by processor validation")
		h.recordFailureLedgers(ctx, entityID, common.CodeInvalidMessage, "message rejected by processor validation", "validate", msg)
		result := NewFailureResult(common.CodeInvalidMessage, "message rejected by processor validation")
		result.CanRetry = false
		return h.finish(result, start)
	}

	result, err := h.processor.Process(ctx, msg)
	if err != nil {
		return h.finish(h.classifyError(ctx, err, entityID, msg, log), start)
	}
	if result == nil {
		err := fmt.Errorf("processor returned neither result nor error")
		return h.finish(h.classifyError(ctx, err, entityID, msg, log), start)
	}

	if result.Status != StatusSuccess && result.Status != StatusPartialSuccess && result.Status != StatusSkipped {
		// Processor-reported failure: its retry verdict stands, the ledgers
		// record it.
		h.recordFailureLedgers(ctx, entityID, result.ErrorCode, result.ErrorMessage, h.processingStep(), msg)
		return h.finish(result, start)
	}

	if result.Status == StatusSuccess && isSource {
		entityID = h.persistCanonical(ctx, msg, result, entityID, log)
	}

	if entityID != "" {
		h.recordState(ctx, entityID, statetrack.StateProcessing, statetrack.StateCompleted, statetrack.TransitionNormal, msg)
	}
	msg.MarkProcessed(time.Now())

	return h.finish(result, start)
}

// ExecuteMap is the untyped-transport shim: decode, execute, and report
// decode failures as INVALID_MESSAGE results.
func (h *Handler) ExecuteMap(ctx context.Context, data map[string]interface{}) *ProcessingResult {
	msg, err := message.FromMap(data)
	if err != nil {
		result := NewFailureResult(common.CodeInvalidMessage, err.Error())
		result.CanRetry = false
		return result
	}
	return h.Execute(ctx, msg)
}

// persistCanonical runs the entity write path for source processors. A
// persistence failure is logged but does not downgrade the processor's
// result; the id lists simply stay empty.
func (h *Handler) persistCanonical(ctx context.Context, msg *message.Message, result *ProcessingResult, entityID string, log *common.ContextLogger) string {
	c, ok := h.processor.(Canonicalizer)
	if !ok {
		return entityID
	}

	canonical, err := c.ToCanonical(msg.Payload, msg.Metadata)
	if err != nil {
		log.WithError(err).Warn("canonical conversion failed, skipping persistence")
		return entityID
	}
	if h.persister == nil {
		return entityID
	}

	outcome, err := h.persister.ProcessEntity(ctx, entity.ProcessEntityRequest{
		ExternalID:    msg.EntityReference.ExternalID,
		CanonicalType: msg.EntityReference.CanonicalType,
		Source:        msg.EntityReference.Source,
		Content:       canonical,
		CustomAttrs:   result.ProcessingMetadata,
		SourceMeta:    msg.Metadata,
		Config:        h.cfg.ProcessingConfig,
	})
	if err != nil {
		log.WithError(err).Warn("entity persistence failed, result unchanged")
		return entityID
	}

	if outcome.Created {
		result.EntitiesCreated = append(result.EntitiesCreated, outcome.EntityID)
	} else if outcome.Updated {
		result.EntitiesUpdated = append(result.EntitiesUpdated, outcome.EntityID)
	}
	if outcome.Detection != nil {
		if result.ProcessingMetadata == nil {
			result.ProcessingMetadata = make(map[string]interface{})
		}
		result.ProcessingMetadata["duplicate_detection"] = outcome.Detection.AsMap()
	}
	return outcome.EntityID
}

// classifyError maps a raised error onto the failure taxonomy.
func (h *Handler) classifyError(ctx context.Context, err error, entityID string, msg *message.Message, log *common.ContextLogger) *ProcessingResult {
	var (
		valErr *common.ValidationError
		svcErr *common.ServiceError
	)

	var result *ProcessingResult
	switch {
	case errors.As(err, &valErr):
		result = NewFailureResult(common.CodeValidationError, err.Error())
		result.CanRetry = false
	case errors.As(err, &svcErr):
		result = NewFailureResult(common.CodeServiceError, err.Error())
		result.CanRetry = h.canRetry(err)
		result.RetryAfterSeconds = Backoff(msg.RetryCount)
	default:
		result = NewFailureResult(common.CodeUnexpectedError, err.Error())
		result.CanRetry = h.canRetry(err)
		result.RetryAfterSeconds = Backoff(msg.RetryCount)
	}

	log.WithError(err).WithField("error_code", string(result.ErrorCode)).Error("processor raised")
	h.recordFailureLedgers(ctx, entityID, result.ErrorCode, err.Error(), h.processingStep(), msg)
	return result
}

func (h *Handler) canRetry(err error) bool {
	if p, ok := h.processor.(RetryPolicy); ok {
		return p.CanRetry(err)
	}
	var valErr *common.ValidationError
	return !errors.As(err, &valErr)
}

func (h *Handler) processingStep() string {
	if h.cfg.ProcessingStage != "" {
		return h.cfg.ProcessingStage
	}
	return "process"
}

func (h *Handler) recordFailureLedgers(ctx context.Context, entityID string, code common.ErrorCode, errMessage, step string, msg *message.Message) {
	if entityID == "" {
		return
	}
	if code == "" {
		code = common.CodeProcessingFailure
	}

	if h.errors != nil {
		_, err := h.errors.RecordError(ctx, procerror.RecordErrorRequest{
			EntityID:       entityID,
			ErrorTypeCode:  string(code),
			Message:        errMessage,
			ProcessingStep: step,
		})
		if err != nil {
			h.logger.WithError(err).WithField("entity_id", entityID).Warn("error ledger write failed")
		}
	}

	h.recordState(ctx, entityID, statetrack.StateProcessing, statetrack.StateSystemError, statetrack.TransitionError, msg)
}

func (h *Handler) recordState(ctx context.Context, entityID, fromState, toState string, transitionType statetrack.TransitionType, msg *message.Message) {
	if !h.cfg.EnableStateTracking || h.states == nil {
		return
	}

	_, err := h.states.RecordTransition(ctx, statetrack.RecordTransitionRequest{
		EntityID:       entityID,
		FromState:      fromState,
		ToState:        toState,
		Actor:          h.cfg.ProcessorName,
		TransitionType: transitionType,
		ProcessorData: map[string]interface{}{
			"message_id":     msg.MessageID,
			"correlation_id": msg.CorrelationID,
		},
	})
	if err != nil {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"entity_id": entityID,
			"to_state":  toState,
		}).Warn("state transition not recorded")
	}
}

func (h *Handler) finish(result *ProcessingResult, start time.Time) *ProcessingResult {
	result.ProcessingDurationMs = elapsedMs(start)
	if p, ok := h.processor.(InfoProvider); ok && result.ProcessorInfo == nil {
		result.ProcessorInfo = p.ProcessorInfo()
	}
	if result.ProcessorInfo == nil {
		result.ProcessorInfo = map[string]interface{}{
			"name":    h.cfg.ProcessorName,
			"version": h.cfg.ProcessorVersion,
		}
	}
	return result
}
