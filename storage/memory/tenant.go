package memory

import (
	"context"
	"sort"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
)

type tenantRepo struct {
	store *Store
}

func (r *tenantRepo) Create(_ context.Context, t *tenant.Tenant) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.tenants[t.TenantID]; exists {
		err := common.NewRepositoryError(common.CodeDuplicate, "tenant already exists", nil)
		err.WithContext("tenant_id", t.TenantID)
		return err
	}
	r.store.tenants[t.TenantID] = t.Clone()
	return nil
}

func (r *tenantRepo) Get(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	t, ok := r.store.tenants[tenantID]
	if !ok {
		return nil, common.NewRepositoryError(common.CodeNotFound, "tenant not found", nil)
	}
	return t.Clone(), nil
}

func (r *tenantRepo) Update(_ context.Context, t *tenant.Tenant) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.tenants[t.TenantID]; !ok {
		return common.NewRepositoryError(common.CodeNotFound, "tenant not found", nil)
	}
	r.store.tenants[t.TenantID] = t.Clone()
	return nil
}

func (r *tenantRepo) List(_ context.Context) ([]*tenant.Tenant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*tenant.Tenant, 0, len(r.store.tenants))
	for _, t := range r.store.tenants {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
