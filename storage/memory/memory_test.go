package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
	"github.com/evocrestco/api-exchange-core-sub000/procerror"
	"github.com/evocrestco/api-exchange-core-sub000/statetrack"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
)

func tenantCtx(t *testing.T, store *Store, tenantID string) context.Context {
	t.Helper()
	ctx := context.Background()
	err := store.Tenants().Create(ctx, &tenant.Tenant{TenantID: tenantID, CustomerName: tenantID + " Inc", IsActive: true})
	if err != nil && !common.IsDuplicate(err) {
		t.Fatalf("create tenant: %v", err)
	}
	scoped, err := tenant.WithTenantID(ctx, tenantID)
	require.NoError(t, err)
	return scoped
}

func TestEntityRepo_RequiresTenantContext(t *testing.T) {
	store := NewStore()

	_, err := store.Entities().Create(context.Background(), &entity.Entity{
		ExternalID: "ORD-1", Source: "crm", CanonicalType: "order", Version: 1,
	})
	assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))
}

func TestEntityRepo_CreateRequiresExistingTenant(t *testing.T) {
	store := NewStore()
	ctx, err := tenant.WithTenantID(context.Background(), "ghost")
	require.NoError(t, err)

	_, err = store.Entities().Create(ctx, &entity.Entity{
		ExternalID: "ORD-1", Source: "crm", CanonicalType: "order", Version: 1,
	})
	assert.Equal(t, common.CodeConstraintViolation, common.CodeOf(err))
}

func TestEntityRepo_VersionUniqueness(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")

	e := &entity.Entity{ExternalID: "ORD-1", Source: "crm", CanonicalType: "order", Version: 1}
	_, err := store.Entities().Create(ctx, e)
	require.NoError(t, err)

	_, err = store.Entities().Create(ctx, e)
	assert.Equal(t, common.CodeDuplicate, common.CodeOf(err))
}

func TestEntityRepo_VersionChainIsGapless(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")
	repo := store.Entities()

	for i := 1; i <= 4; i++ {
		_, v, err := repo.CreateNewVersion(ctx, "crm", "ORD-1", "hash", nil, "order")
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	versions, err := repo.ListVersions(ctx, "crm", "ORD-1")
	require.NoError(t, err)
	require.Len(t, versions, 4)
	for i, e := range versions {
		assert.Equal(t, i+1, e.Version)
		assert.Equal(t, "order", e.CanonicalType)
	}
}

func TestEntityRepo_FirstVersionRequiresCanonicalType(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")

	_, _, err := store.Entities().CreateNewVersion(ctx, "crm", "ORD-1", "hash", nil, "")
	assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))
}

func TestEntityRepo_DeleteCascades(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")

	id, _, err := store.Entities().CreateNewVersion(ctx, "crm", "ORD-1", "hash", nil, "order")
	require.NoError(t, err)

	_, err = store.Transitions().Record(ctx, &statetrack.StateTransition{
		EntityID: id, FromState: "RECEIVED", ToState: "PROCESSING", Actor: "p", TransitionType: statetrack.TransitionNormal,
	})
	require.NoError(t, err)
	_, err = store.Errors().Create(ctx, &procerror.ProcessingError{
		EntityID: id, ErrorTypeCode: "SERVICE_ERROR", Message: "m", ProcessingStep: "persist",
	})
	require.NoError(t, err)

	deleted, err := store.Entities().Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	history, err := store.Transitions().ListByEntity(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)

	errs, err := store.Errors().ListByEntity(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestTransitionRepo_SequenceNumbers(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")

	id, _, err := store.Entities().CreateNewVersion(ctx, "crm", "ORD-1", "hash", nil, "order")
	require.NoError(t, err)

	states := []struct{ from, to string }{
		{"RECEIVED", "PROCESSING"},
		{"PROCESSING", "VALIDATED"},
		{"VALIDATED", "COMPLETED"},
	}
	for _, s := range states {
		_, err := store.Transitions().Record(ctx, &statetrack.StateTransition{
			EntityID: id, FromState: s.from, ToState: s.to, Actor: "p", TransitionType: statetrack.TransitionNormal,
		})
		require.NoError(t, err)
	}

	history, err := store.Transitions().ListByEntity(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, tr := range history {
		assert.Equal(t, i+1, tr.SequenceNumber, "sequence numbers are gapless from 1")
		assert.Equal(t, "T1", tr.TenantID)
	}

	latest, err := store.Transitions().GetLatest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", latest.ToState)
}

func TestTransitionRepo_RequiresExistingEntity(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")

	_, err := store.Transitions().Record(ctx, &statetrack.StateTransition{
		EntityID: "ghost", FromState: "A", ToState: "B", Actor: "p",
	})
	assert.Equal(t, common.CodeConstraintViolation, common.CodeOf(err))
}

func TestErrorRepo_RequiresExistingEntity(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")

	_, err := store.Errors().Create(ctx, &procerror.ProcessingError{
		EntityID: "ghost", ErrorTypeCode: "SERVICE_ERROR", Message: "m", ProcessingStep: "persist",
	})
	assert.Equal(t, common.CodeConstraintViolation, common.CodeOf(err))
}

func TestTenantIsolation(t *testing.T) {
	store := NewStore()
	ctxA := tenantCtx(t, store, "T1")
	ctxB := tenantCtx(t, store, "T2")
	repo := store.Entities()

	idA, vA, err := repo.CreateNewVersion(ctxA, "crm", "ORD-1", "hash-a", nil, "order")
	require.NoError(t, err)
	idB, vB, err := repo.CreateNewVersion(ctxB, "crm", "ORD-1", "hash-b", nil, "order")
	require.NoError(t, err)

	// Identical tuples under different tenants both start at version 1.
	assert.Equal(t, 1, vA)
	assert.Equal(t, 1, vB)
	assert.NotEqual(t, idA, idB)

	gotA, err := repo.GetByExternalID(ctxA, "crm", "ORD-1", nil)
	require.NoError(t, err)
	assert.Equal(t, idA, gotA.ID)
	assert.Equal(t, "hash-a", gotA.ContentHash)

	gotB, err := repo.GetByExternalID(ctxB, "crm", "ORD-1", nil)
	require.NoError(t, err)
	assert.Equal(t, idB, gotB.ID)

	// Cross-tenant id lookups find nothing.
	_, err = repo.GetByID(ctxB, idA)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))

	// Content hash lookups stay inside the tenant too.
	_, err = repo.GetByContentHash(ctxB, "crm", "hash-a")
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
}

func TestEntityRepo_ListPagination(t *testing.T) {
	store := NewStore()
	ctx := tenantCtx(t, store, "T1")
	repo := store.Entities()

	for i := 0; i < 5; i++ {
		_, _, err := repo.CreateNewVersion(ctx, "crm", string(rune('A'+i)), "h", nil, "order")
		require.NoError(t, err)
	}

	page, total, err := repo.List(ctx, entity.Filter{Source: "crm"}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	page, total, err = repo.List(ctx, entity.Filter{Source: "crm"}, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	page, _, err = repo.List(ctx, entity.Filter{Source: "crm"}, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}
