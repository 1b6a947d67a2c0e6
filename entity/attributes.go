package entity

import (
	"time"
)

// Reserved top-level attribute keys. Tenant processors may write any other
// key verbatim.
const (
	AttrDuplicateDetection = "duplicate_detection"
	AttrSourceMetadata     = "source_metadata"
	AttrProcessorExecution = "processor_execution"
)

// BuildAttributesInput carries the pieces merged into an entity attribute
// bag.
type BuildAttributesInput struct {
	Detection      *DuplicateDetectionResult
	CustomAttrs    map[string]interface{}
	ProcessorName  string
	SourceMetadata map[string]interface{}
	ContentChanged bool
}

// BuildAttributes assembles the stable attribute shape: custom keys
// verbatim plus the reserved duplicate_detection, source_metadata, and
// processor_execution sections.
func BuildAttributes(in BuildAttributesInput) map[string]interface{} {
	attrs := make(map[string]interface{}, len(in.CustomAttrs)+3)

	for k, v := range in.CustomAttrs {
		attrs[k] = v
	}

	if in.Detection != nil {
		attrs[AttrDuplicateDetection] = in.Detection.AsMap()
	}
	if in.SourceMetadata != nil {
		attrs[AttrSourceMetadata] = in.SourceMetadata
	}

	attrs[AttrProcessorExecution] = map[string]interface{}{
		"processor_name":  in.ProcessorName,
		"processed_at":    time.Now().UTC().Format(time.RFC3339Nano),
		"content_changed": in.ContentChanged,
	}

	return attrs
}

// MergeAttributes shallow-merges new into existing, overwriting top-level
// keys. Keys listed in preserveKeys keep their existing values. Neither
// input is mutated.
func MergeAttributes(existing, updates map[string]interface{}, preserveKeys []string) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}

	preserved := make(map[string]struct{}, len(preserveKeys))
	for _, k := range preserveKeys {
		preserved[k] = struct{}{}
	}

	for k, v := range updates {
		if _, keep := preserved[k]; keep {
			if _, exists := existing[k]; exists {
				continue
			}
		}
		merged[k] = v
	}

	return merged
}

// UpdateDuplicateDetection writes a fresh detection result into the
// attribute bag. With mergeResults set, an existing result is merged via
// DuplicateDetectionResult.Merge instead of replaced. Returns a new map.
func UpdateDuplicateDetection(existing map[string]interface{}, detection *DuplicateDetectionResult, mergeResults bool) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+1)
	for k, v := range existing {
		out[k] = v
	}

	if detection == nil {
		return out
	}

	if mergeResults {
		if prior, ok := out[AttrDuplicateDetection].(map[string]interface{}); ok {
			if priorResult, err := DetectionResultFromMap(prior); err == nil {
				out[AttrDuplicateDetection] = priorResult.Merge(detection).AsMap()
				return out
			}
		}
	}

	out[AttrDuplicateDetection] = detection.AsMap()
	return out
}
