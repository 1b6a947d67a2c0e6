package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// Service wraps the entity repository with input validation, operation
// tracing, and service-level error conversion. Absence is reported as a
// nil entity, not an error; storage failures keep their semantic codes.
type Service struct {
	repo    Repository
	logger  *common.ContextLogger
	tracker *common.OperationTracker
}

// NewService creates an entity service over the given repository.
func NewService(repo Repository, logger *common.ContextLogger) *Service {
	if logger == nil {
		logger = common.FrameworkLogger("entity-service")
	}
	return &Service{
		repo:    repo,
		logger:  logger,
		tracker: common.NewOperationTracker(common.TrackerConfig{Component: "entity-service", Logger: logger}),
	}
}

// Create persists a new entity and returns its id.
func (s *Service) Create(ctx context.Context, e *Entity) (string, error) {
	if err := validateEntity(e); err != nil {
		return "", err
	}

	var id string
	err := s.tracker.Trace(uuid.NewString(), "create_entity", func() error {
		var err error
		id, err = s.repo.Create(ctx, e)
		return err
	})
	if err != nil {
		return "", common.ServiceFromRepository(err)
	}
	return id, nil
}

// GetByID returns an entity by id, or nil when absent.
func (s *Service) GetByID(ctx context.Context, id string) (*Entity, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, nil
		}
		return nil, common.ServiceFromRepository(err)
	}
	return e, nil
}

// GetByExternalID returns the latest version for the tuple, or the specific
// version when version is non-nil. Absence yields nil.
func (s *Service) GetByExternalID(ctx context.Context, source, externalID string, version *int) (*Entity, error) {
	e, err := s.repo.GetByExternalID(ctx, source, externalID, version)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, nil
		}
		return nil, common.ServiceFromRepository(err)
	}
	return e, nil
}

// ListVersions returns every version of the tuple ordered by version.
func (s *Service) ListVersions(ctx context.Context, source, externalID string) ([]*Entity, error) {
	versions, err := s.repo.ListVersions(ctx, source, externalID)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}
	return versions, nil
}

// GetMaxVersion returns the highest stored version for the tuple, 0 when
// none exists.
func (s *Service) GetMaxVersion(ctx context.Context, source, externalID string) (int, error) {
	max, err := s.repo.GetMaxVersion(ctx, source, externalID)
	if err != nil {
		return 0, common.ServiceFromRepository(err)
	}
	return max, nil
}

// GetByContentHash returns the entity carrying the content hash for the
// source, or nil when absent.
func (s *Service) GetByContentHash(ctx context.Context, source, contentHash string) (*Entity, error) {
	e, err := s.repo.GetByContentHash(ctx, source, contentHash)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, nil
		}
		return nil, common.ServiceFromRepository(err)
	}
	return e, nil
}

// CreateNewVersion writes version max+1 for the tuple and returns the new
// id and version number.
func (s *Service) CreateNewVersion(ctx context.Context, source, externalID, contentHash string, attributes map[string]interface{}, canonicalType string) (string, int, error) {
	if source == "" || externalID == "" {
		return "", 0, common.NewValidationError("source and external id are required")
	}
	if len(canonicalType) > MaxCanonicalTypeLength {
		return "", 0, common.NewValidationError(fmt.Sprintf("canonical type exceeds %d characters", MaxCanonicalTypeLength))
	}

	var id string
	var version int
	err := s.tracker.Trace(uuid.NewString(), "create_new_version", func() error {
		var err error
		id, version, err = s.repo.CreateNewVersion(ctx, source, externalID, contentHash, attributes, canonicalType)
		return err
	})
	if err != nil {
		var valErr *common.ValidationError
		if errors.As(err, &valErr) {
			return "", 0, err
		}
		return "", 0, common.ServiceFromRepository(err)
	}
	return id, version, nil
}

// List returns a page of entities matching the filter plus the total match
// count.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entity, int, error) {
	entities, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, common.ServiceFromRepository(err)
	}
	return entities, total, nil
}

// IterEntities streams matching entities in batches of batchSize, invoking
// fn for each batch. Iteration stops on the first fn error.
func (s *Service) IterEntities(ctx context.Context, f Filter, batchSize int, fn func(batch []*Entity) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	offset := 0
	for {
		batch, _, err := s.repo.List(ctx, f, batchSize, offset)
		if err != nil {
			return common.ServiceFromRepository(err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

// UpdateAttributes shallow-merges the given map into the entity's stored
// attributes.
func (s *Service) UpdateAttributes(ctx context.Context, id string, merge map[string]interface{}) error {
	if len(merge) == 0 {
		return nil
	}
	if err := s.repo.UpdateAttributes(ctx, id, merge); err != nil {
		return common.ServiceFromRepository(err)
	}
	return nil
}

// Delete removes an entity. Returns false when the id is unknown.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, common.ServiceFromRepository(err)
	}
	return deleted, nil
}

func validateEntity(e *Entity) error {
	if e == nil {
		return common.NewValidationError("entity must not be nil")
	}
	if e.ExternalID == "" {
		return common.NewValidationError("external id is required")
	}
	if e.Source == "" {
		return common.NewValidationError("source is required")
	}
	if e.CanonicalType == "" {
		return common.NewValidationError("canonical type is required")
	}
	if len(e.CanonicalType) > MaxCanonicalTypeLength {
		return common.NewValidationError(fmt.Sprintf("canonical type exceeds %d characters", MaxCanonicalTypeLength))
	}
	if e.Version < 0 {
		return common.NewValidationError("version must not be negative")
	}
	return nil
}
