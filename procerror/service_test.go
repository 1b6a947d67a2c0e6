package procerror

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

type fakeErrorRepo struct {
	records map[string]*ProcessingError
	seq     int
}

func newFakeErrorRepo() *fakeErrorRepo {
	return &fakeErrorRepo{records: make(map[string]*ProcessingError)}
}

func (r *fakeErrorRepo) Create(_ context.Context, e *ProcessingError) (string, error) {
	c := *e
	r.seq++
	c.ID = fmt.Sprintf("err-%04d", r.seq)
	c.CreatedAt = time.Now().UTC().Add(time.Duration(r.seq) * time.Millisecond)
	r.records[c.ID] = &c
	return c.ID, nil
}

func (r *fakeErrorRepo) GetByID(_ context.Context, id string) (*ProcessingError, error) {
	e, ok := r.records[id]
	if !ok {
		return nil, common.NewRepositoryError(common.CodeNotFound, "error record not found", nil)
	}
	c := *e
	return &c, nil
}

func (r *fakeErrorRepo) ListByEntity(ctx context.Context, entityID string) ([]*ProcessingError, error) {
	return r.ListByFilter(ctx, Filter{EntityID: entityID})
}

func (r *fakeErrorRepo) ListByFilter(_ context.Context, f Filter) ([]*ProcessingError, error) {
	var out []*ProcessingError
	for _, e := range r.records {
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
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeErrorRepo) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := r.records[id]; !ok {
		return false, nil
	}
	delete(r.records, id)
	return true, nil
}

func (r *fakeErrorRepo) DeleteByEntity(_ context.Context, entityID string) (int, error) {
	count := 0
	for id, e := range r.records {
		if e.EntityID == entityID {
			delete(r.records, id)
			count++
		}
	}
	return count, nil
}

func TestService_RecordError_Validation(t *testing.T) {
	svc := NewService(newFakeErrorRepo(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RecordErrorRequest
		code common.ErrorCode
	}{
		{"missing entity id", RecordErrorRequest{ErrorTypeCode: "VALIDATION_ERROR", Message: "m", ProcessingStep: "validate"}, common.CodeMissingEntityID},
		{"missing type code", RecordErrorRequest{EntityID: "e1", Message: "m", ProcessingStep: "validate"}, common.CodeValidationFailed},
		{"missing message", RecordErrorRequest{EntityID: "e1", ErrorTypeCode: "VALIDATION_ERROR", ProcessingStep: "validate"}, common.CodeValidationFailed},
		{"missing step", RecordErrorRequest{EntityID: "e1", ErrorTypeCode: "VALIDATION_ERROR", Message: "m"}, common.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordError(ctx, tt.req)
			assert.Equal(t, tt.code, common.CodeOf(err))
		})
	}
}

func TestService_RecordAndFind(t *testing.T) {
	svc := NewService(newFakeErrorRepo(), nil)
	ctx := context.Background()

	id, err := svc.RecordError(ctx, RecordErrorRequest{
		EntityID:       "e1",
		ErrorTypeCode:  "VALIDATION_ERROR",
		Message:        "amount must be positive",
		ProcessingStep: "validate",
		StackTrace:     "validator.go:42",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = svc.RecordError(ctx, RecordErrorRequest{
		EntityID:       "e1",
		ErrorTypeCode:  "SERVICE_ERROR",
		Message:        "downstream timeout",
		ProcessingStep: "deliver",
	})
	require.NoError(t, err)

	_, err = svc.RecordError(ctx, RecordErrorRequest{
		EntityID:       "e2",
		ErrorTypeCode:  "VALIDATION_ERROR",
		Message:        "other entity",
		ProcessingStep: "validate",
	})
	require.NoError(t, err)

	records, err := svc.FindByEntityID(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "downstream timeout", records[0].Message, "newest first")
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestService_GetByFilter(t *testing.T) {
	svc := NewService(newFakeErrorRepo(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordError(ctx, RecordErrorRequest{
			EntityID:       "e1",
			ErrorTypeCode:  "VALIDATION_ERROR",
			Message:        fmt.Sprintf("m%d", i),
			ProcessingStep: "validate",
		})
		require.NoError(t, err)
	}
	_, err := svc.RecordError(ctx, RecordErrorRequest{
		EntityID:       "e1",
		ErrorTypeCode:  "SERVICE_ERROR",
		Message:        "timeout",
		ProcessingStep: "deliver",
	})
	require.NoError(t, err)

	byCode, err := svc.GetByFilter(ctx, Filter{ErrorTypeCode: "VALIDATION_ERROR"})
	require.NoError(t, err)
	assert.Len(t, byCode, 3)

	byStep, err := svc.GetByFilter(ctx, Filter{EntityID: "e1", ProcessingStep: "deliver"})
	require.NoError(t, err)
	require.Len(t, byStep, 1)
	assert.Equal(t, "timeout", byStep[0].Message)
}

func TestService_Delete(t *testing.T) {
	svc := NewService(newFakeErrorRepo(), nil)
	ctx := context.Background()

	id, err := svc.RecordError(ctx, RecordErrorRequest{
		EntityID:       "e1",
		ErrorTypeCode:  "SERVICE_ERROR",
		Message:        "m",
		ProcessingStep: "persist",
	})
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestService_DeleteByEntityID(t *testing.T) {
	svc := NewService(newFakeErrorRepo(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordError(ctx, RecordErrorRequest{
			EntityID:       "e1",
			ErrorTypeCode:  "SERVICE_ERROR",
			Message:        fmt.Sprintf("m%d", i),
			ProcessingStep: "persist",
		})
		require.NoError(t, err)
	}

	count, err := svc.DeleteByEntityID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	records, err := svc.FindByEntityID(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, records)
}
