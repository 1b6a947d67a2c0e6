package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/procerror"
)

type errorRepo struct {
	store *Store
}

func (r *errorRepo) Create(ctx context.Context, e *procerror.ProcessingError) (string, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ent, ok := r.store.entities[e.EntityID]
	if !ok || ent.TenantID != tenantID {
		return "", common.NewRepositoryError(common.CodeConstraintViolation, "entity does not exist", nil)
	}

	c := *e
	c.ID = uuid.NewString()
	c.TenantID = tenantID
	c.CreatedAt = time.Now().UTC()
	r.store.procErrors[c.ID] = &c
	return c.ID, nil
}

func (r *errorRepo) GetByID(ctx context.Context, id string) (*procerror.ProcessingError, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	e, ok := r.store.procErrors[id]
	if !ok || e.TenantID != tenantID {
		return nil, common.NewRepositoryError(common.CodeNotFound, "error record not found", nil)
	}
	c := *e
	return &c, nil
}

func (r *errorRepo) ListByEntity(ctx context.Context, entityID string) ([]*procerror.ProcessingError, error) {
	return r.ListByFilter(ctx, procerror.Filter{EntityID: entityID})
}

func (r *errorRepo) ListByFilter(ctx context.Context, f procerror.Filter) ([]*procerror.ProcessingError, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*procerror.ProcessingError
	for _, e := range r.store.procErrors {
		if e.TenantID != tenantID {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ErrorTypeCode != "" && e.ErrorTypeCode != f.ErrorTypeCode {
			continue
		}
		if f.ProcessingStep != "" && e.ProcessingStep != f.ProcessingStep {
			continue
		}
		if f.CreatedAfter != nil && !e.CreatedAt.After(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && !e.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *errorRepo) Delete(ctx context.Context, id string) (bool, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return false, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.procErrors[id]
	if !ok || e.TenantID != tenantID {
		return false, nil
	}
	delete(r.store.procErrors, id)
	return true, nil
}

func (r *errorRepo) DeleteByEntity(ctx context.Context, entityID string) (int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return 0, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	count := 0
	for id, e := range r.store.procErrors {
		if e.TenantID == tenantID && e.EntityID == entityID {
			delete(r.store.procErrors, id)
			count++
		}
	}
	return count, nil
}
