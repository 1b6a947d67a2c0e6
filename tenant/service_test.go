package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// fakeRepo is a minimal in-memory Repository for service tests.
type fakeRepo struct {
	tenants map[string]*Tenant
	gets    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tenants: make(map[string]*Tenant)}
}

func (r *fakeRepo) Create(_ context.Context, t *Tenant) error {
	if _, exists := r.tenants[t.TenantID]; exists {
		return common.NewRepositoryError(common.CodeDuplicate, "tenant already exists", nil)
	}
	r.tenants[t.TenantID] = t.Clone()
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*Tenant, error) {
	r.gets++
	t, ok := r.tenants[id]
	if !ok {
		return nil, common.NewRepositoryError(common.CodeNotFound, "tenant not found", nil)
	}
	return t.Clone(), nil
}

func (r *fakeRepo) Update(_ context.Context, t *Tenant) error {
	if _, ok := r.tenants[t.TenantID]; !ok {
		return common.NewRepositoryError(common.CodeNotFound, "tenant not found", nil)
	}
	r.tenants[t.TenantID] = t.Clone()
	return nil
}

func (r *fakeRepo) List(_ context.Context) ([]*Tenant, error) {
	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t.Clone())
	}
	return out, nil
}

func TestService_Create(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), nil)

	err := svc.Create(context.Background(), &Tenant{TenantID: "T1", CustomerName: "Acme"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.CustomerName)
	assert.False(t, got.CreatedAt.IsZero())

	// Second create with the same id keeps its DUPLICATE code.
	err = svc.Create(context.Background(), &Tenant{TenantID: "T1", CustomerName: "Other"})
	require.Error(t, err)
	assert.Equal(t, common.CodeDuplicate, common.CodeOf(err))
}

func TestService_Create_Validation(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil)

	err := svc.Create(context.Background(), &Tenant{CustomerName: "Acme"})
	assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))

	err = svc.Create(context.Background(), &Tenant{TenantID: "T1"})
	assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))
}

func TestService_Get_UsesCache(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), nil)
	require.NoError(t, svc.Create(context.Background(), &Tenant{TenantID: "T1", CustomerName: "Acme"}))

	_, err := svc.Get(context.Background(), "T1")
	require.NoError(t, err)
	getsAfterFirst := repo.gets

	_, err = svc.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, getsAfterFirst, repo.gets, "second lookup is served from cache")
}

func TestService_UpdateConfig_InvalidatesCache(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), nil)
	require.NoError(t, svc.Create(context.Background(), &Tenant{TenantID: "T1", CustomerName: "Acme"}))

	// Warm the cache.
	_, err := svc.Get(context.Background(), "T1")
	require.NoError(t, err)

	require.NoError(t, svc.UpdateConfig(context.Background(), "T1", "webhook_url", "https://example.test"))

	got, err := svc.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test", got.ConfigValueOr("webhook_url", nil))
	cv := got.Config["webhook_url"]
	assert.False(t, cv.UpdatedAt.IsZero(), "config entries carry their own timestamp")
}

func TestService_ActivateDeactivate(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), nil)
	require.NoError(t, svc.Create(context.Background(), &Tenant{TenantID: "T1", CustomerName: "Acme", IsActive: true}))

	require.NoError(t, svc.Deactivate(context.Background(), "T1"))
	got, err := svc.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	require.NoError(t, svc.Activate(context.Background(), "T1"))
	got, err = svc.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestService_GetCurrent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), nil)
	require.NoError(t, svc.Create(context.Background(), &Tenant{TenantID: "T1", CustomerName: "Acme"}))

	ctx, err := WithTenantID(context.Background(), "T1")
	require.NoError(t, err)

	got, err := svc.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.TenantID)

	// Without tenant context the call is a validation failure.
	_, err = svc.GetCurrent(context.Background())
	assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))

	// Unknown tenant keeps its NOT_FOUND code.
	ctx, err = WithTenantID(context.Background(), "T9")
	require.NoError(t, err)
	_, err = svc.GetCurrent(ctx)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
}
