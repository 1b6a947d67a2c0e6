package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

func seedEntity(t *testing.T, repo *fakeEntityRepo, source, externalID string, content map[string]interface{}) *Entity {
	t.Helper()
	hash, err := ComputeContentHash(content, nil)
	require.NoError(t, err)
	id, _, err := repo.CreateNewVersion(context.Background(), source, externalID, hash, nil, "order")
	require.NoError(t, err)
	e, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func TestDetect_New(t *testing.T) {
	repo := newFakeEntityRepo()
	svc := NewDuplicateDetectionService(repo, nil)

	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    map[string]interface{}{"order_id": "X1"},
		Source:     "crm",
		ExternalID: "ORD-1",
	})

	assert.False(t, res.IsDuplicate)
	assert.Equal(t, ReasonNew, res.Reason)
	assert.Equal(t, 100, res.Confidence)
	assert.False(t, res.IsSuspicious)
	assert.NotEmpty(t, res.ContentHash)
	assert.False(t, res.DetectionTimestamp.IsZero())
}

func TestDetect_NewVersion(t *testing.T) {
	repo := newFakeEntityRepo()
	content := map[string]interface{}{"order_id": "X1", "amount": 10}
	existing := seedEntity(t, repo, "crm", "ORD-1", content)

	svc := NewDuplicateDetectionService(repo, nil)
	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    content,
		Source:     "crm",
		ExternalID: "ORD-1",
	})

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, ReasonNewVersion, res.Reason)
	assert.Equal(t, 90, res.Confidence)
	assert.False(t, res.IsSuspicious, "same external id resubmitting content is routine")
	assert.Equal(t, []string{existing.ID}, res.SimilarEntityIDs)
	assert.Equal(t, []string{"ORD-1"}, res.SimilarEntityExternalIDs)
}

func TestDetect_SameSourceContentMatch(t *testing.T) {
	repo := newFakeEntityRepo()
	content := map[string]interface{}{"order_id": "X1", "amount": 10}
	existing := seedEntity(t, repo, "crm", "ORD-1", content)

	svc := NewDuplicateDetectionService(repo, nil)
	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    content,
		Source:     "crm",
		ExternalID: "ORD-2",
	})

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, ReasonSameSourceContentMatch, res.Reason)
	assert.Equal(t, 90, res.Confidence)
	assert.True(t, res.IsSuspicious, "same content under a different external id is flagged")
	assert.Equal(t, []string{existing.ID}, res.SimilarEntityIDs)
}

func TestDetect_ExcludeEntityID(t *testing.T) {
	repo := newFakeEntityRepo()
	content := map[string]interface{}{"order_id": "X1"}
	existing := seedEntity(t, repo, "crm", "ORD-1", content)

	svc := NewDuplicateDetectionService(repo, nil)
	res := svc.Detect(context.Background(), DetectionRequest{
		Content:         content,
		Source:          "crm",
		ExternalID:      "ORD-1",
		ExcludeEntityID: existing.ID,
	})

	assert.False(t, res.IsDuplicate)
	assert.Equal(t, ReasonNew, res.Reason)
}

func TestDetect_UnknownStrategyFails(t *testing.T) {
	svc := NewDuplicateDetectionService(newFakeEntityRepo(), nil)

	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    map[string]interface{}{"order_id": "X1"},
		Source:     "crm",
		ExternalID: "ORD-1",
		Strategy:   "fuzzy",
	})

	assert.Equal(t, ReasonDetectionFailed, res.Reason)
	assert.Equal(t, 0, res.Confidence)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, string(common.CodeValidationFailed), res.Metadata["error_code"])
}

func TestDetect_ContentHashStrategyAccepted(t *testing.T) {
	svc := NewDuplicateDetectionService(newFakeEntityRepo(), nil)

	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    map[string]interface{}{"order_id": "X1"},
		Source:     "crm",
		ExternalID: "ORD-1",
		Strategy:   StrategyContentHash,
	})

	assert.Equal(t, ReasonNew, res.Reason)
	assert.Equal(t, 100, res.Confidence)
}

func TestDetect_CapsSimilarEntities(t *testing.T) {
	repo := newFakeEntityRepo()
	content := map[string]interface{}{"order_id": "X1"}
	seedEntity(t, repo, "crm", "ORD-1", content)

	svc := NewDuplicateDetectionService(repo, nil)
	res := svc.Detect(context.Background(), DetectionRequest{
		Content:            content,
		Source:             "crm",
		ExternalID:         "ORD-1",
		MaxSimilarEntities: 1,
	})

	assert.True(t, res.IsDuplicate)
	assert.Len(t, res.SimilarEntityIDs, 1)
}

func TestDetectionResult_CapSimilar(t *testing.T) {
	res := &DuplicateDetectionResult{
		SimilarEntityIDs:         []string{"e1", "e2", "e3"},
		SimilarEntityExternalIDs: []string{"X1", "X2", "X3"},
	}

	res.CapSimilar(2)
	assert.Equal(t, []string{"e1", "e2"}, res.SimilarEntityIDs)
	assert.Equal(t, []string{"X1", "X2"}, res.SimilarEntityExternalIDs)

	res.CapSimilar(0)
	assert.Len(t, res.SimilarEntityIDs, 2, "zero means uncapped")
}

func TestDetect_FailureSynthesizesResult(t *testing.T) {
	repo := newFakeEntityRepo()
	repo.failContentHash = common.NewRepositoryError(common.CodeDatabaseError, "connection lost", nil)

	svc := NewDuplicateDetectionService(repo, nil)
	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    map[string]interface{}{"order_id": "X1"},
		Source:     "crm",
		ExternalID: "ORD-1",
	})

	assert.False(t, res.IsDuplicate)
	assert.Equal(t, ReasonDetectionFailed, res.Reason)
	assert.Equal(t, 0, res.Confidence)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, string(common.CodeDatabaseError), res.Metadata["error_code"])
}

func TestDetect_UnhashableContentFails(t *testing.T) {
	svc := NewDuplicateDetectionService(newFakeEntityRepo(), nil)

	res := svc.Detect(context.Background(), DetectionRequest{
		Content:    map[string]interface{}{"bad": make(chan int)},
		Source:     "crm",
		ExternalID: "ORD-1",
	})

	assert.Equal(t, ReasonDetectionFailed, res.Reason)
	assert.Equal(t, 0, res.Confidence)
}

func TestDetectionResult_Merge(t *testing.T) {
	a := &DuplicateDetectionResult{
		IsDuplicate:      true,
		Confidence:       90,
		Reason:           ReasonNewVersion,
		SimilarEntityIDs: []string{"e1", "e2"},
		Metadata:         map[string]interface{}{"k": "a", "only_a": true},
	}
	b := &DuplicateDetectionResult{
		IsDuplicate:      true,
		Confidence:       60,
		Reason:           ReasonSameSourceContentMatch,
		SimilarEntityIDs: []string{"e2", "e3"},
		IsSuspicious:     true,
		Metadata:         map[string]interface{}{"k": "b"},
	}

	merged := a.Merge(b)

	assert.Equal(t, ReasonNewVersion, merged.Reason, "higher confidence wins the base")
	assert.Equal(t, 90, merged.Confidence)
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, merged.SimilarEntityIDs)
	assert.True(t, merged.IsSuspicious, "suspicion is sticky across merges")
	assert.Equal(t, "b", merged.Metadata["k"], "other result wins metadata conflicts")
	assert.Equal(t, true, merged.Metadata["only_a"])
}

func TestDetectionResult_MergeNil(t *testing.T) {
	a := &DuplicateDetectionResult{Confidence: 90, Reason: ReasonNew}
	merged := a.Merge(nil)
	assert.Equal(t, a.Confidence, merged.Confidence)
	assert.Equal(t, a.Reason, merged.Reason)
}

func TestDetectionResult_MapRoundTrip(t *testing.T) {
	orig := &DuplicateDetectionResult{
		IsDuplicate:      true,
		Confidence:       90,
		Reason:           ReasonNewVersion,
		SimilarEntityIDs: []string{"e1"},
		ContentHash:      "abc",
		IsSuspicious:     false,
	}

	back, err := DetectionResultFromMap(orig.AsMap())
	require.NoError(t, err)
	assert.Equal(t, orig.Reason, back.Reason)
	assert.Equal(t, orig.Confidence, back.Confidence)
	assert.Equal(t, orig.SimilarEntityIDs, back.SimilarEntityIDs)
	assert.Equal(t, orig.ContentHash, back.ContentHash)
}
