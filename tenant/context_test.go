package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evocrestco/api-exchange-core-sub000/common"
)

func TestWithTenantID(t *testing.T) {
	tests := []struct {
		name      string
		tenantID  string
		expectErr bool
	}{
		{name: "Valid", tenantID: "T1", expectErr: false},
		{name: "Empty", tenantID: "", expectErr: true},
		{name: "Whitespace", tenantID: "   ", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := WithTenantID(context.Background(), tt.tenantID)

			if tt.expectErr {
				require.Error(t, err)
				assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))
				return
			}

			require.NoError(t, err)
			id, ok := FromContext(ctx)
			assert.True(t, ok)
			assert.Equal(t, tt.tenantID, id)
		})
	}
}

func TestFromContext_Absent(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	_, err := MustFromContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, common.CodeValidationFailed, common.CodeOf(err))
}

func TestClearTenant(t *testing.T) {
	ctx, err := WithTenantID(context.Background(), "T1")
	require.NoError(t, err)

	cleared := ClearTenant(ctx)
	_, ok := FromContext(cleared)
	assert.False(t, ok)

	// Parent context untouched.
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "T1", id)
}

func TestRunWithTenant_Nesting(t *testing.T) {
	var inner, outer string

	err := RunWithTenant(context.Background(), "A", func(ctx context.Context) error {
		return RunWithTenant(ctx, "B", func(nested context.Context) error {
			inner, _ = FromContext(nested)
			outer, _ = FromContext(ctx)
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, "B", inner)
	assert.Equal(t, "A", outer, "outer scope keeps its tenant while nested scope runs")
}

func TestRunWithTenant_RestoresOnFailure(t *testing.T) {
	ctx, err := WithTenantID(context.Background(), "A")
	require.NoError(t, err)

	wantErr := errors.New("processor exploded")
	err = RunWithTenant(ctx, "B", func(context.Context) error { return wantErr })
	assert.Equal(t, wantErr, err)

	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "A", id)
}

func TestRunWithTenant_InvalidTenant(t *testing.T) {
	called := false
	err := RunWithTenant(context.Background(), " ", func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
