// Package entity implements the entity lifecycle engine: immutable
// versioned records with stable internal identities, deterministic content
// hashing, duplicate detection, attribute merging, and the processing
// service that orchestrates the write path.
//
// Entities are immutable once created. Only the attributes bag may be
// updated in place; external id, source, canonical type, version, and
// content hash never change. Versions start at 1 and increase strictly per
// (tenant, source, external_id).
package entity

import (
	"context"
	"time"
)

// MaxCanonicalTypeLength bounds the canonical_type column.
const MaxCanonicalTypeLength = 50

// Entity is one immutable version of an external object.
type Entity struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	ExternalID    string                 `json:"external_id"`
	CanonicalType string                 `json:"canonical_type"`
	Source        string                 `json:"source"`
	Version       int                    `json:"version"`
	ContentHash   string                 `json:"content_hash,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Clone returns a copy with an independent top-level attributes map.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Attributes != nil {
		c.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// Filter narrows entity listings. Zero-valued fields are ignored.
type Filter struct {
	CanonicalType string
	Source        string
	ExternalID    string
	ContentHash   string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Repository is the storage contract for entities. Every operation is
// scoped to the tenant carried by the context; implementations fail with
// VALIDATION_FAILED when no tenant is active.
//
// Implementations live in storage/memory and storage/postgres.
type Repository interface {
	// Create persists a new entity and returns its id. Fails with DUPLICATE
	// when (tenant, source, external_id, version) collides and with
	// CONSTRAINT_VIOLATION when the tenant does not exist.
	Create(ctx context.Context, e *Entity) (string, error)

	// GetByID returns an entity by id, tenant-filtered. Fails with
	// NOT_FOUND when absent or owned by another tenant.
	GetByID(ctx context.Context, id string) (*Entity, error)

	// GetByExternalID returns the latest version, or the specific version
	// when version is non-nil. Fails with NOT_FOUND when absent.
	GetByExternalID(ctx context.Context, source, externalID string, version *int) (*Entity, error)

	// ListVersions returns every version for the tuple ordered by version
	// ascending. An unknown tuple yields an empty slice.
	ListVersions(ctx context.Context, source, externalID string) ([]*Entity, error)

	// GetMaxVersion returns the highest version for the tuple, 0 when the
	// tuple is unknown.
	GetMaxVersion(ctx context.Context, source, externalID string) (int, error)

	// GetByContentHash returns the entity carrying the given content hash
	// for the source. Fails with NOT_FOUND when absent.
	GetByContentHash(ctx context.Context, source, contentHash string) (*Entity, error)

	// CreateNewVersion reads the current max version and writes max+1
	// atomically. canonicalType is required only when no version exists
	// yet; otherwise it is inherited from the latest version. Returns the
	// new id and version.
	CreateNewVersion(ctx context.Context, source, externalID, contentHash string, attributes map[string]interface{}, canonicalType string) (string, int, error)

	// List returns a page of entities matching the filter plus the total
	// match count.
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entity, int, error)

	// UpdateAttributes shallow-merges the given map into the entity's
	// attributes, overwriting top-level keys. The only mutation an existing
	// row supports.
	UpdateAttributes(ctx context.Context, id string, merge map[string]interface{}) error

	// Delete removes an entity. Returns false when the id is unknown rather
	// than failing.
	Delete(ctx context.Context, id string) (bool, error)
}
