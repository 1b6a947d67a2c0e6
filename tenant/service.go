package tenant

import (
	"context"
	"time"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// Repository is the storage contract for tenants. Implementations live in
// storage/memory and storage/postgres.
type Repository interface {
	// Create persists a new tenant. Fails with DUPLICATE when the tenant id
	// is already taken.
	Create(ctx context.Context, t *Tenant) error

	// Get returns a tenant by id. Fails with NOT_FOUND when absent.
	Get(ctx context.Context, tenantID string) (*Tenant, error)

	// Update replaces the mutable fields of an existing tenant. Fails with
	// NOT_FOUND when absent.
	Update(ctx context.Context, t *Tenant) error

	// List returns all tenants ordered by tenant id.
	List(ctx context.Context) ([]*Tenant, error)
}

// Service is the tenant registry. Every mutation invalidates the context
// cache so subsequent lookups observe the change.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *common.ContextLogger
}

// NewService creates a tenant registry service. A nil cache disables
// caching; a nil logger falls back to the framework default.
func NewService(repo Repository, cache *Cache, logger *common.ContextLogger) *Service {
	if logger == nil {
		logger = common.FrameworkLogger("tenant-service")
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Create registers a new tenant. New tenants start active unless the model
// says otherwise.
func (s *Service) Create(ctx context.Context, t *Tenant) error {
	if t == nil || t.TenantID == "" {
		return common.NewValidationError("tenant id is required")
	}
	if t.CustomerName == "" {
		return common.NewValidationError("customer name is required")
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := s.repo.Create(ctx, t); err != nil {
		return common.ServiceFromRepository(err)
	}

	s.invalidate(t.TenantID)
	s.logger.WithTenant(t.TenantID).Info("tenant created")
	return nil
}

// Update replaces a tenant's mutable fields.
func (s *Service) Update(ctx context.Context, t *Tenant) error {
	if t == nil || t.TenantID == "" {
		return common.NewValidationError("tenant id is required")
	}

	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return common.ServiceFromRepository(err)
	}

	s.invalidate(t.TenantID)
	return nil
}

// UpdateConfig writes one key of the tenant configuration bag, stamping the
// value with the current time.
func (s *Service) UpdateConfig(ctx context.Context, tenantID, key string, value interface{}) error {
	if key == "" {
		return common.NewValidationError("config key is required")
	}

	t, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return common.ServiceFromRepository(err)
	}

	t.SetConfigValue(key, value)
	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return common.ServiceFromRepository(err)
	}

	s.invalidate(tenantID)
	return nil
}

// Activate marks a tenant active.
func (s *Service) Activate(ctx context.Context, tenantID string) error {
	return s.setActive(ctx, tenantID, true)
}

// Deactivate marks a tenant inactive. Existing data is untouched.
func (s *Service) Deactivate(ctx context.Context, tenantID string) error {
	return s.setActive(ctx, tenantID, false)
}

func (s *Service) setActive(ctx context.Context, tenantID string, active bool) error {
	t, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return common.ServiceFromRepository(err)
	}

	t.IsActive = active
	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return common.ServiceFromRepository(err)
	}

	s.invalidate(tenantID)
	return nil
}

// Get returns a tenant by id, consulting the cache first.
func (s *Service) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	if s.cache != nil {
		if t, ok := s.cache.Get(tenantID); ok {
			return t, nil
		}
	}

	t, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}

	if s.cache != nil {
		s.cache.Put(t)
	}
	return t, nil
}

// GetCurrent returns the tenant identified by the active tenant context.
func (s *Service) GetCurrent(ctx context.Context) (*Tenant, error) {
	tenantID, err := MustFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID)
}

func (s *Service) invalidate(tenantID string) {
	if s.cache != nil {
		s.cache.Invalidate(tenantID)
	}
}
