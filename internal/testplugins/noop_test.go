package testplugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonge/no8s-operator/internal/plugin"
)

func TestNoopSuccessRunsFullPhaseProtocol(t *testing.T) {
	ctx := context.Background()
	n := NewNoopSuccess()
	require.NoError(t, n.Initialize(ctx, map[string]any{"k": "v"}))

	actx := plugin.ActionContext{ResourceID: 1, ResourceName: "demo"}
	ws, err := n.Prepare(ctx, actx)
	require.NoError(t, err)

	plan, err := n.Plan(ctx, actx, ws)
	require.NoError(t, err)
	assert.True(t, plan.Success)
	assert.True(t, plan.HasChanges)

	apply, err := n.Apply(ctx, actx, ws)
	require.NoError(t, err)
	assert.True(t, apply.Success)
	assert.Equal(t, "applied", apply.Outputs["status"])

	require.NoError(t, n.Cleanup(ctx, ws))

	_, prepareCalls, planCalls, applyCalls, destroyCalls, cleanupCalls := n.CallCounts()
	assert.Equal(t, 1, prepareCalls)
	assert.Equal(t, 1, planCalls)
	assert.Equal(t, 1, applyCalls)
	assert.Equal(t, 0, destroyCalls)
	assert.Equal(t, 1, cleanupCalls)
}

func TestNoopNoChangesSkipsApply(t *testing.T) {
	ctx := context.Background()
	n := NewNoopNoChanges()
	actx := plugin.ActionContext{ResourceID: 2, ResourceName: "demo"}
	ws, err := n.Prepare(ctx, actx)
	require.NoError(t, err)

	plan, err := n.Plan(ctx, actx, ws)
	require.NoError(t, err)
	assert.True(t, plan.Success)
	assert.False(t, plan.HasChanges)
}

func TestNoopFailureApplyFails(t *testing.T) {
	ctx := context.Background()
	n := NewNoopFailure()
	actx := plugin.ActionContext{ResourceID: 3, ResourceName: "demo"}
	ws, err := n.Prepare(ctx, actx)
	require.NoError(t, err)

	plan, err := n.Plan(ctx, actx, ws)
	require.NoError(t, err)
	require.True(t, plan.HasChanges)

	apply, err := n.Apply(ctx, actx, ws)
	require.NoError(t, err)
	assert.False(t, apply.Success)
	assert.NotEmpty(t, apply.ErrorMessage)
}

func TestNoopDestroySucceeds(t *testing.T) {
	ctx := context.Background()
	n := NewNoopSuccess()
	actx := plugin.ActionContext{ResourceID: 4, ResourceName: "demo"}
	ws, err := n.Prepare(ctx, actx)
	require.NoError(t, err)

	result, err := n.Destroy(ctx, actx, ws)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ResourcesDeleted)
}
