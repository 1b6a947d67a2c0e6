package procerror

import (
	"context"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

// RecordErrorRequest carries the inputs of one error ledger write.
type RecordErrorRequest struct {
	EntityID       string
	ErrorTypeCode  string
	Message        string
	ProcessingStep string
	StackTrace     string
}

// Service exposes the error ledger operations.
type Service struct {
	repo   Repository
	logger *common.ContextLogger
}

// NewService creates an error ledger service over the given repository.
func NewService(repo Repository, logger *common.ContextLogger) *Service {
	if logger == nil {
		logger = common.FrameworkLogger("error-ledger")
	}
	return &Service{repo: repo, logger: logger}
}

// RecordError persists one failure record and returns its id.
func (s *Service) RecordError(ctx context.Context, req RecordErrorRequest) (string, error) {
	if req.EntityID == "" {
		return "", common.NewValidationErrorWithCode(common.CodeMissingEntityID, "entity id is required")
	}
	if req.ErrorTypeCode == "" {
		return "", common.NewValidationError("error type code is required")
	}
	if req.Message == "" {
		return "", common.NewValidationError("message is required")
	}
	if req.ProcessingStep == "" {
		return "", common.NewValidationError("processing step is required")
	}

	id, err := s.repo.Create(ctx, &ProcessingError{
		EntityID:       req.EntityID,
		ErrorTypeCode:  req.ErrorTypeCode,
		Message:        req.Message,
		ProcessingStep: req.ProcessingStep,
		StackTrace:     req.StackTrace,
	})
	if err != nil {
		return "", common.ServiceFromRepository(err)
	}
	return id, nil
}

// FindByEntityID returns every recorded failure for the entity, newest
// first.
func (s *Service) FindByEntityID(ctx context.Context, entityID string) ([]*ProcessingError, error) {
	if entityID == "" {
		return nil, common.NewValidationErrorWithCode(common.CodeMissingEntityID, "entity id is required")
	}
	out, err := s.repo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}
	return out, nil
}

// GetByFilter returns failures matching the filter, newest first.
func (s *Service) GetByFilter(ctx context.Context, f Filter) ([]*ProcessingError, error) {
	out, err := s.repo.ListByFilter(ctx, f)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}
	return out, nil
}

// Delete removes one record. Returns false when the id is unknown.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, common.ServiceFromRepository(err)
	}
	return deleted, nil
}

// DeleteByEntityID removes every record for the entity and returns the
// count removed.
func (s *Service) DeleteByEntityID(ctx context.Context, entityID string) (int, error) {
	if entityID == "" {
		return 0, common.NewValidationErrorWithCode(common.CodeMissingEntityID, "entity id is required")
	}
	count, err := s.repo.DeleteByEntity(ctx, entityID)
	if err != nil {
		return 0, common.ServiceFromRepository(err)
	}
	return count, nil
}
