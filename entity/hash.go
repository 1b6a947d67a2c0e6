package entity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// HashConfig controls content fingerprint computation. The zero value hashes
// every field with sha256.
type HashConfig struct {
	// FieldsToInclude restricts hashing to the named top-level fields.
	// Empty means all fields.
	FieldsToInclude []string `json:"fields_to_include,omitempty" mapstructure:"fields_to_include"`

	// ExcludeFields removes the named top-level fields after inclusion is
	// applied. Useful for volatile fields such as fetch timestamps.
	ExcludeFields []string `json:"exclude_fields,omitempty" mapstructure:"exclude_fields"`

	// Algorithm selects the digest: sha256 (default), sha1, or md5.
	Algorithm string `json:"algorithm,omitempty" mapstructure:"algorithm"`
}

// ComputeContentHash computes the deterministic fingerprint of canonical
// content: serialize the filtered content to sorted-key JSON and digest it
// with the configured algorithm, hex-encoded.
func ComputeContentHash(content map[string]interface{}, cfg *HashConfig) (string, error) {
	if content == nil {
		return "", common.NewValidationError("content must not be nil")
	}
	if cfg == nil {
		cfg = &HashConfig{}
	}

	filtered := filterFields(content, cfg)

	// encoding/json marshals map keys in sorted order at every nesting
	// level, which gives us the canonical form directly.
	canonical, err := json.Marshal(filtered)
	if err != nil {
		return "", common.NewServiceError(common.CodeInvalidData, "content is not serializable", err)
	}

	h, err := newDigest(cfg.Algorithm)
	if err != nil {
		return "", err
	}
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newDigest(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, common.NewValidationError(fmt.Sprintf("unsupported hash algorithm %q", algorithm))
	}
}

func filterFields(content map[string]interface{}, cfg *HashConfig) map[string]interface{} {
	filtered := make(map[string]interface{}, len(content))

	if len(cfg.FieldsToInclude) > 0 {
		for _, k := range cfg.FieldsToInclude {
			if v, ok := content[k]; ok {
				filtered[k] = v
			}
		}
	} else {
		for k, v := range content {
			filtered[k] = v
		}
	}

	for _, k := range cfg.ExcludeFields {
		delete(filtered, k)
	}

	return filtered
}

// CanonicalJSON returns the sorted-key JSON serialization of content with
// the hash config's field filters applied. Exposed for diagnostics.
func CanonicalJSON(content map[string]interface{}, cfg *HashConfig) ([]byte, error) {
	if cfg == nil {
		cfg = &HashConfig{}
	}
	return json.Marshal(filterFields(content, cfg))
}
