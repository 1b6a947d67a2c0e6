package entity

import (
	"context"
	"fmt"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// State labels written by the processing service. The full lifecycle
// vocabulary lives in the state tracking package; only the ingest states
// are needed here.
const (
	stateReceived   = "RECEIVED"
	stateProcessing = "PROCESSING"
)

// ProcessingConfig drives one processor's entity handling behavior. The
// zero value disables detection and state tracking.
type ProcessingConfig struct {
	ProcessorName    string `json:"processor_name" mapstructure:"processor_name"`
	ProcessorVersion string `json:"processor_version,omitempty" mapstructure:"processor_version"`

	// IsSourceProcessor marks processors that ingest external data and may
	// create entities. Non-source processors require the entity to exist.
	IsSourceProcessor bool `json:"is_source_processor" mapstructure:"is_source_processor"`

	EnableDuplicateDetection      bool        `json:"enable_duplicate_detection" mapstructure:"enable_duplicate_detection"`
	DuplicateDetectionStrategy    string      `json:"duplicate_detection_strategy,omitempty" mapstructure:"duplicate_detection_strategy"`
	HashConfig                    *HashConfig `json:"hash_config,omitempty" mapstructure:"hash_config"`
	FailOnDuplicateDetectionError bool        `json:"fail_on_duplicate_detection_error" mapstructure:"fail_on_duplicate_detection_error"`
	MaxSimilarEntities            int         `json:"max_similar_entities,omitempty" mapstructure:"max_similar_entities"`

	// ForceNewVersion makes a non-source processor bump the version even
	// though it normally only annotates the existing entity.
	ForceNewVersion bool `json:"force_new_version" mapstructure:"force_new_version"`

	// UpdateAttributesOnDuplicate lets a non-source processor merge its
	// custom attributes into the existing entity.
	UpdateAttributesOnDuplicate bool     `json:"update_attributes_on_duplicate" mapstructure:"update_attributes_on_duplicate"`
	PreserveAttributeKeys       []string `json:"preserve_attribute_keys,omitempty" mapstructure:"preserve_attribute_keys"`

	EnableStateTracking bool   `json:"enable_state_tracking" mapstructure:"enable_state_tracking"`
	ProcessingStage     string `json:"processing_stage,omitempty" mapstructure:"processing_stage"`
}

// StateTracker records lifecycle transitions for processed entities. The
// state tracking service satisfies this; the processing service treats
// ledger failures as non-fatal.
type StateTracker interface {
	RecordNormalTransition(ctx context.Context, entityID, fromState, toState, actor string, processorData map[string]interface{}) error
}

// ProcessEntityRequest carries one unit of content through the write path.
type ProcessEntityRequest struct {
	ExternalID    string
	CanonicalType string
	Source        string
	Content       map[string]interface{}
	CustomAttrs   map[string]interface{}
	SourceMeta    map[string]interface{}
	Config        ProcessingConfig
}

// ProcessingOutcome reports what the write path did with one request.
type ProcessingOutcome struct {
	EntityID       string
	Version        int
	Created        bool
	Updated        bool
	ContentChanged bool
	Detection      *DuplicateDetectionResult
}

// ProcessingService is the single entry point for entity persistence during
// message processing: it runs duplicate detection, applies the version
// policy, and records lifecycle transitions.
type ProcessingService struct {
	repo      Repository
	detection *DuplicateDetectionService
	tracker   StateTracker
	logger    *common.ContextLogger
}

// NewProcessingService wires the write path. tracker may be nil, which
// disables state recording regardless of configuration.
func NewProcessingService(repo Repository, detection *DuplicateDetectionService, tracker StateTracker, logger *common.ContextLogger) *ProcessingService {
	if logger == nil {
		logger = common.FrameworkLogger("entity-processing")
	}
	if detection == nil {
		detection = NewDuplicateDetectionService(repo, logger)
	}
	return &ProcessingService{repo: repo, detection: detection, tracker: tracker, logger: logger}
}

// ProcessEntity applies the version policy for one piece of content:
//
//	source processor, entity absent   -> create version 1
//	source processor, entity present  -> create version max+1
//	other processor, entity absent    -> NOT_FOUND
//	other processor, entity present   -> optional attribute merge
//
// Duplicate detection runs first when enabled; a detection failure aborts
// only when the config says so, otherwise a DETECTION_FAILED result is
// attached and processing continues.
func (s *ProcessingService) ProcessEntity(ctx context.Context, req ProcessEntityRequest) (*ProcessingOutcome, error) {
	if req.ExternalID == "" || req.Source == "" {
		return nil, common.NewValidationError("source and external id are required")
	}

	cfg := req.Config

	var detection *DuplicateDetectionResult
	if cfg.EnableDuplicateDetection {
		detection = s.detection.Detect(ctx, DetectionRequest{
			Content:            req.Content,
			EntityType:         req.CanonicalType,
			Source:             req.Source,
			ExternalID:         req.ExternalID,
			HashConfig:         cfg.HashConfig,
			Strategy:           cfg.DuplicateDetectionStrategy,
			MaxSimilarEntities: cfg.MaxSimilarEntities,
		})
		if detection.Reason == ReasonDetectionFailed && cfg.FailOnDuplicateDetectionError {
			return nil, common.NewServiceError(common.CodeServiceError, "duplicate detection failed", nil)
		}
	}

	contentHash := ""
	if detection != nil {
		contentHash = detection.ContentHash
	}
	if contentHash == "" && req.Content != nil {
		var err error
		contentHash, err = ComputeContentHash(req.Content, cfg.HashConfig)
		if err != nil {
			return nil, err
		}
	}

	latest, err := s.repo.GetByExternalID(ctx, req.Source, req.ExternalID, nil)
	if err != nil && !common.IsNotFound(err) {
		return nil, common.ServiceFromRepository(err)
	}

	switch {
	case latest == nil && cfg.IsSourceProcessor:
		return s.createVersion(ctx, req, contentHash, detection, true, stateReceived)

	case latest == nil:
		return nil, common.NewServiceError(common.CodeNotFound,
			fmt.Sprintf("no entity for source %q external id %q", req.Source, req.ExternalID), nil)

	case cfg.IsSourceProcessor || cfg.ForceNewVersion:
		contentChanged := latest.ContentHash != contentHash
		out, err := s.createVersion(ctx, req, contentHash, detection, contentChanged, stateProcessing)
		if err != nil {
			return nil, err
		}
		return out, nil

	default:
		return s.annotateExisting(ctx, req, latest, detection)
	}
}

func (s *ProcessingService) createVersion(ctx context.Context, req ProcessEntityRequest, contentHash string, detection *DuplicateDetectionResult, contentChanged bool, fromState string) (*ProcessingOutcome, error) {
	attrs := BuildAttributes(BuildAttributesInput{
		Detection:      detection,
		CustomAttrs:    req.CustomAttrs,
		ProcessorName:  req.Config.ProcessorName,
		SourceMetadata: req.SourceMeta,
		ContentChanged: contentChanged,
	})

	id, version, err := s.repo.CreateNewVersion(ctx, req.Source, req.ExternalID, contentHash, attrs, req.CanonicalType)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}

	s.recordTransition(ctx, req.Config, id, fromState, stateProcessing, map[string]interface{}{
		"version":         version,
		"content_changed": contentChanged,
	})

	return &ProcessingOutcome{
		EntityID:       id,
		Version:        version,
		Created:        true,
		ContentChanged: contentChanged,
		Detection:      detection,
	}, nil
}

func (s *ProcessingService) annotateExisting(ctx context.Context, req ProcessEntityRequest, latest *Entity, detection *DuplicateDetectionResult) (*ProcessingOutcome, error) {
	out := &ProcessingOutcome{
		EntityID:  latest.ID,
		Version:   latest.Version,
		Detection: detection,
	}

	if !req.Config.UpdateAttributesOnDuplicate {
		return out, nil
	}

	merged := MergeAttributes(latest.Attributes, req.CustomAttrs, req.Config.PreserveAttributeKeys)
	if detection != nil {
		merged = UpdateDuplicateDetection(merged, detection, true)
	}
	if err := s.repo.UpdateAttributes(ctx, latest.ID, merged); err != nil {
		return nil, common.ServiceFromRepository(err)
	}

	out.Updated = true
	s.recordTransition(ctx, req.Config, latest.ID, stateProcessing, stateProcessing, map[string]interface{}{
		"attributes_merged": true,
	})
	return out, nil
}

// recordTransition writes to the state ledger best-effort. Persistence
// already succeeded at this point, so a ledger failure must not fail the
// entity operation.
func (s *ProcessingService) recordTransition(ctx context.Context, cfg ProcessingConfig, entityID, fromState, toState string, data map[string]interface{}) {
	if !cfg.EnableStateTracking || s.tracker == nil {
		return
	}

	err := s.tracker.RecordNormalTransition(ctx, entityID, fromState, toState, cfg.ProcessorName, data)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"entity_id":  entityID,
			"from_state": fromState,
			"to_state":   toState,
		}).WithError(err).Warn("state transition not recorded")
	}
}
