package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
)

type entityRepo struct {
	store *Store
}

func (r *entityRepo) Create(ctx context.Context, e *entity.Entity) (string, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.createLocked(tenantID, e)
}

// createLocked inserts one entity under the store lock, enforcing the
// tenant foreign key and the version uniqueness constraint.
func (r *entityRepo) createLocked(tenantID string, e *entity.Entity) (string, error) {
	if _, ok := r.store.tenants[tenantID]; !ok {
		return "", common.NewRepositoryError(common.CodeConstraintViolation, "tenant does not exist", nil)
	}

	for _, ex := range r.store.entities {
		if ex.TenantID == tenantID && ex.Source == e.Source && ex.ExternalID == e.ExternalID && ex.Version == e.Version {
			err := common.NewRepositoryError(common.CodeDuplicate, "entity version already exists", nil)
			err.WithContext("external_id", e.ExternalID)
			err.WithContext("version", e.Version)
			return "", err
		}
	}

	c := e.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.TenantID = tenantID
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.store.entities[c.ID] = c
	return c.ID, nil
}

func (r *entityRepo) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	e, ok := r.store.entities[id]
	if !ok || e.TenantID != tenantID {
		return nil, common.NewRepositoryError(common.CodeNotFound, "entity not found", nil)
	}
	return e.Clone(), nil
}

func (r *entityRepo) GetByExternalID(ctx context.Context, source, externalID string, version *int) (*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	e := r.lookupLocked(tenantID, source, externalID, version)
	if e == nil {
		return nil, common.NewRepositoryError(common.CodeNotFound, "entity not found", nil)
	}
	return e.Clone(), nil
}

// lookupLocked finds the specific version, or the latest when version is
// nil. Caller holds the lock.
func (r *entityRepo) lookupLocked(tenantID, source, externalID string, version *int) *entity.Entity {
	var best *entity.Entity
	for _, e := range r.store.entities {
		if e.TenantID != tenantID || e.Source != source || e.ExternalID != externalID {
			continue
		}
		if version != nil {
			if e.Version == *version {
				return e
			}
			continue
		}
		if best == nil || e.Version > best.Version {
			best = e
		}
	}
	return best
}

func (r *entityRepo) ListVersions(ctx context.Context, source, externalID string) ([]*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.Entity
	for _, e := range r.store.entities {
		if e.TenantID == tenantID && e.Source == source && e.ExternalID == externalID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *entityRepo) GetMaxVersion(ctx context.Context, source, externalID string) (int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return 0, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.maxVersionLocked(tenantID, source, externalID), nil
}

func (r *entityRepo) maxVersionLocked(tenantID, source, externalID string) int {
	max := 0
	for _, e := range r.store.entities {
		if e.TenantID == tenantID && e.Source == source && e.ExternalID == externalID && e.Version > max {
			max = e.Version
		}
	}
	return max
}

func (r *entityRepo) GetByContentHash(ctx context.Context, source, contentHash string) (*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, e := range r.store.entities {
		if e.TenantID == tenantID && e.Source == source && e.ContentHash == contentHash {
			return e.Clone(), nil
		}
	}
	return nil, common.NewRepositoryError(common.CodeNotFound, "entity not found", nil)
}

func (r *entityRepo) CreateNewVersion(ctx context.Context, source, externalID, contentHash string, attributes map[string]interface{}, canonicalType string) (string, int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", 0, err
	}

	// max read and insert happen under one lock acquisition, which is this
	// backend's equivalent of the transactional SELECT ... FOR UPDATE.
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	max := r.maxVersionLocked(tenantID, source, externalID)
	if max > 0 {
		latest := r.lookupLocked(tenantID, source, externalID, nil)
		canonicalType = latest.CanonicalType
	} else if canonicalType == "" {
		return "", 0, common.NewRepositoryError(common.CodeValidationFailed, "canonical type is required for the first version", nil)
	}

	id, err := r.createLocked(tenantID, &entity.Entity{
		ExternalID:    externalID,
		CanonicalType: canonicalType,
		Source:        source,
		Version:       max + 1,
		ContentHash:   contentHash,
		Attributes:    attributes,
	})
	if err != nil {
		return "", 0, err
	}
	return id, max + 1, nil
}

func (r *entityRepo) List(ctx context.Context, f entity.Filter, limit, offset int) ([]*entity.Entity, int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, 0, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var matched []*entity.Entity
	for _, e := range r.store.entities {
		if e.TenantID != tenantID {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if f.CanonicalType != "" && e.CanonicalType != f.CanonicalType {
			continue
		}
		if f.ExternalID != "" && e.ExternalID != f.ExternalID {
			continue
		}
		if f.ContentHash != "" && e.ContentHash != f.ContentHash {
			continue
		}
		if f.CreatedAfter != nil && !e.CreatedAt.After(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && !e.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		matched = append(matched, e.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *entityRepo) UpdateAttributes(ctx context.Context, id string, merge map[string]interface{}) error {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.entities[id]
	if !ok || e.TenantID != tenantID {
		return common.NewRepositoryError(common.CodeNotFound, "entity not found", nil)
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]interface{}, len(merge))
	}
	for k, v := range merge {
		e.Attributes[k] = v
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *entityRepo) Delete(ctx context.Context, id string) (bool, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return false, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.entities[id]
	if !ok || e.TenantID != tenantID {
		return false, nil
	}

	delete(r.store.entities, id)
	// Cascade: the entity owns its ledgers.
	delete(r.store.transitions, id)
	for errID, pe := range r.store.procErrors {
		if pe.EntityID == id {
			delete(r.store.procErrors, errID)
		}
	}
	return true, nil
}
