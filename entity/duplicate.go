package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// DetectionReason classifies a duplicate detection outcome.
type DetectionReason string

const (
	ReasonNew                    DetectionReason = "NEW"
	ReasonNewVersion             DetectionReason = "NEW_VERSION"
	ReasonSameSourceContentMatch DetectionReason = "SAME_SOURCE_CONTENT_MATCH"
	ReasonDetectionFailed        DetectionReason = "DETECTION_FAILED"
)

// StrategyContentHash is the only implemented detection strategy: content is
// fingerprinted and compared against stored hashes of the same source.
const StrategyContentHash = "content_hash"

// DuplicateDetectionResult is the outcome of a content fingerprint lookup.
// It is attached to entity attributes under the duplicate_detection key.
type DuplicateDetectionResult struct {
	IsDuplicate              bool                   `json:"is_duplicate"`
	Confidence               int                    `json:"confidence"`
	Reason                   DetectionReason        `json:"reason"`
	SimilarEntityIDs         []string               `json:"similar_entity_ids,omitempty"`
	SimilarEntityExternalIDs []string               `json:"similar_entity_external_ids,omitempty"`
	ContentHash              string                 `json:"content_hash,omitempty"`
	IsSuspicious             bool                   `json:"is_suspicious"`
	Metadata                 map[string]interface{} `json:"metadata,omitempty"`
	DetectionTimestamp       time.Time              `json:"detection_timestamp"`
}

// Merge combines two detection results: the higher-confidence result wins
// as base, similar-id lists are unioned, and metadata is merged with the
// other result winning on key conflicts.
func (r *DuplicateDetectionResult) Merge(other *DuplicateDetectionResult) *DuplicateDetectionResult {
	if other == nil {
		c := *r
		return &c
	}

	base, second := r, other
	if other.Confidence > r.Confidence {
		base, second = other, r
	}

	merged := *base
	merged.SimilarEntityIDs = unionStrings(base.SimilarEntityIDs, second.SimilarEntityIDs)
	merged.SimilarEntityExternalIDs = unionStrings(base.SimilarEntityExternalIDs, second.SimilarEntityExternalIDs)
	merged.IsSuspicious = r.IsSuspicious || other.IsSuspicious

	merged.Metadata = make(map[string]interface{})
	for k, v := range r.Metadata {
		merged.Metadata[k] = v
	}
	for k, v := range other.Metadata {
		merged.Metadata[k] = v
	}
	if len(merged.Metadata) == 0 {
		merged.Metadata = nil
	}

	return &merged
}

// CapSimilar truncates the similar-entity lists to at most max entries.
// max <= 0 leaves the result unchanged.
func (r *DuplicateDetectionResult) CapSimilar(max int) {
	if max <= 0 {
		return
	}
	if len(r.SimilarEntityIDs) > max {
		r.SimilarEntityIDs = r.SimilarEntityIDs[:max]
	}
	if len(r.SimilarEntityExternalIDs) > max {
		r.SimilarEntityExternalIDs = r.SimilarEntityExternalIDs[:max]
	}
}

// AsMap converts the result to its attribute-bag representation.
func (r *DuplicateDetectionResult) AsMap() map[string]interface{} {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]interface{}{"reason": string(ReasonDetectionFailed)}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"reason": string(ReasonDetectionFailed)}
	}
	return out
}

// DetectionResultFromMap rebuilds a result from its attribute-bag form.
func DetectionResultFromMap(data map[string]interface{}) (*DuplicateDetectionResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, common.NewServiceError(common.CodeInvalidData, "malformed detection result", err)
	}
	var out DuplicateDetectionResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, common.NewServiceError(common.CodeInvalidData, "malformed detection result", err)
	}
	return &out, nil
}

// DetectionRequest carries the inputs of one duplicate detection run.
type DetectionRequest struct {
	Content         map[string]interface{}
	EntityType      string
	Source          string
	ExternalID      string
	HashConfig      *HashConfig
	ExcludeEntityID string

	// Strategy selects the detection algorithm. Empty means
	// StrategyContentHash; anything else yields DETECTION_FAILED.
	Strategy string

	// MaxSimilarEntities caps the similar-entity lists on the result.
	// Zero or negative means uncapped.
	MaxSimilarEntities int
}

// DuplicateDetectionService classifies incoming content against previously
// stored entities of the same source by content fingerprint.
type DuplicateDetectionService struct {
	repo   Repository
	logger *common.ContextLogger
}

// NewDuplicateDetectionService creates a detection service over the given
// repository.
func NewDuplicateDetectionService(repo Repository, logger *common.ContextLogger) *DuplicateDetectionService {
	if logger == nil {
		logger = common.FrameworkLogger("duplicate-detection")
	}
	return &DuplicateDetectionService{repo: repo, logger: logger}
}

// Detect computes the content fingerprint and classifies the content as
// NEW, NEW_VERSION, or SAME_SOURCE_CONTENT_MATCH. Detection never fails the
// caller: internal errors yield a DETECTION_FAILED result with confidence 0
// and the failure recorded in metadata, leaving the fail-open/fail-closed
// decision to configuration.
func (s *DuplicateDetectionService) Detect(ctx context.Context, req DetectionRequest) *DuplicateDetectionResult {
	if req.Strategy != "" && req.Strategy != StrategyContentHash {
		return s.failed(req, common.NewValidationError(
			fmt.Sprintf("unknown duplicate detection strategy %q", req.Strategy)))
	}

	result := &DuplicateDetectionResult{
		Reason:             ReasonNew,
		Confidence:         100,
		DetectionTimestamp: time.Now().UTC(),
	}

	contentHash, err := ComputeContentHash(req.Content, req.HashConfig)
	if err != nil {
		return s.failed(req, err)
	}
	result.ContentHash = contentHash

	match, err := s.repo.GetByContentHash(ctx, req.Source, contentHash)
	if err != nil {
		if common.IsNotFound(err) {
			return result
		}
		return s.failed(req, err)
	}

	if match == nil || match.ID == req.ExcludeEntityID {
		return result
	}

	result.IsDuplicate = true
	result.Confidence = 90
	result.SimilarEntityIDs = []string{match.ID}
	result.SimilarEntityExternalIDs = []string{match.ExternalID}

	if match.ExternalID == req.ExternalID {
		result.Reason = ReasonNewVersion
		result.IsSuspicious = false
	} else {
		// Same content arriving under a different external id is worth an
		// operator's attention.
		result.Reason = ReasonSameSourceContentMatch
		result.IsSuspicious = true
	}

	result.CapSimilar(req.MaxSimilarEntities)
	return result
}

func (s *DuplicateDetectionService) failed(req DetectionRequest, err error) *DuplicateDetectionResult {
	s.logger.WithFields(map[string]interface{}{
		"source":      req.Source,
		"external_id": req.ExternalID,
	}).WithError(err).Warn("duplicate detection failed")

	return &DuplicateDetectionResult{
		IsDuplicate:        false,
		Confidence:         0,
		Reason:             ReasonDetectionFailed,
		DetectionTimestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"error":      err.Error(),
			"error_code": string(common.CodeOf(err)),
		},
	}
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
