// Package memory provides mutex-guarded in-memory implementations of the
// framework's repositories. Intended for tests and single-process setups;
// it enforces the same tenant scoping and unique constraints as the
// Postgres backend.
package memory

import (
	"context"
	"sync"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
	"github.com/evocrestco/api-exchange-core-sub000/procerror"
	"github.com/evocrestco/api-exchange-core-sub000/statetrack"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
)

// Store holds every table behind one lock. Cross-table constraints
// (tenant existence, entity existence, cascades) are enforced inside the
// lock, mirroring the relational schema.
type Store struct {
	mu          sync.RWMutex
	tenants     map[string]*tenant.Tenant
	entities    map[string]*entity.Entity
	transitions map[string][]*statetrack.StateTransition
	procErrors  map[string]*procerror.ProcessingError
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tenants:     make(map[string]*tenant.Tenant),
		entities:    make(map[string]*entity.Entity),
		transitions: make(map[string][]*statetrack.StateTransition),
		procErrors:  make(map[string]*procerror.ProcessingError),
	}
}

// Tenants returns the tenant repository view of the store.
func (s *Store) Tenants() tenant.Repository { return &tenantRepo{s} }

// Entities returns the entity repository view of the store.
func (s *Store) Entities() entity.Repository { return &entityRepo{s} }

// Transitions returns the state ledger repository view of the store.
func (s *Store) Transitions() statetrack.Repository { return &transitionRepo{s} }

// Errors returns the error ledger repository view of the store.
func (s *Store) Errors() procerror.Repository { return &errorRepo{s} }

// currentTenant resolves the tenant carried by the context, as a
// repository error when absent.
func currentTenant(ctx context.Context) (string, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return "", common.NewRepositoryError(common.CodeValidationFailed, "no tenant in context", err)
	}
	return tenantID, nil
}
