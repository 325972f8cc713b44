package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonge/no8s-operator/internal/model"
	"github.com/wilsonge/no8s-operator/internal/plugin"
)

type fakeActionExecutor struct {
	name, version string
}

func (f *fakeActionExecutor) Name() string    { return f.name }
func (f *fakeActionExecutor) Version() string { return f.version }
func (f *fakeActionExecutor) Initialize(ctx context.Context, config map[string]any) error {
	return nil
}
func (f *fakeActionExecutor) ValidateSpec(ctx context.Context, spec map[string]any) (bool, string) {
	return true, ""
}
func (f *fakeActionExecutor) Prepare(ctx context.Context, actx plugin.ActionContext) (any, error) {
	return nil, nil
}
func (f *fakeActionExecutor) Plan(ctx context.Context, actx plugin.ActionContext, workspace any) (plugin.ActionResult, error) {
	return plugin.ActionResult{}, nil
}
func (f *fakeActionExecutor) Apply(ctx context.Context, actx plugin.ActionContext, workspace any) (plugin.ActionResult, error) {
	return plugin.ActionResult{}, nil
}
func (f *fakeActionExecutor) Destroy(ctx context.Context, actx plugin.ActionContext, workspace any) (plugin.ActionResult, error) {
	return plugin.ActionResult{}, nil
}
func (f *fakeActionExecutor) GetOutputs(ctx context.Context, actx plugin.ActionContext, workspace any) (map[string]any, error) {
	return nil, nil
}
func (f *fakeActionExecutor) GetState(ctx context.Context, actx plugin.ActionContext, workspace any) (map[string]any, error) {
	return nil, nil
}
func (f *fakeActionExecutor) Cleanup(ctx context.Context, workspace any) error { return nil }

type fakeReconcilerPlugin struct {
	name          string
	resourceTypes []string
}

func (f *fakeReconcilerPlugin) Name() string            { return f.name }
func (f *fakeReconcilerPlugin) ResourceTypes() []string { return f.resourceTypes }
func (f *fakeReconcilerPlugin) Start(ctx context.Context, rctx plugin.ReconcilerContext) error {
	return nil
}
func (f *fakeReconcilerPlugin) Reconcile(ctx context.Context, r model.Resource, rctx plugin.ReconcilerContext) (plugin.ReconcileResult, error) {
	return plugin.ReconcileResult{}, nil
}
func (f *fakeReconcilerPlugin) Stop(ctx context.Context) error { return nil }

func TestRegisterActionExecutor(t *testing.T) {
	r := New(nil)
	r.RegisterActionExecutor(&fakeActionExecutor{name: "widget", version: "1.0.0"})

	exec, err := r.GetActionExecutor("widget")
	require.NoError(t, err)
	assert.Equal(t, "widget", exec.Name())
	assert.True(t, r.HasActionExecutor("widget"))
	assert.False(t, r.HasActionExecutor("missing"))
	assert.Equal(t, []string{"widget"}, r.ListActionExecutors())
	assert.Equal(t, 1, r.Count())
}

func TestGetActionExecutorUnknownReturnsError(t *testing.T) {
	r := New(nil)
	_, err := r.GetActionExecutor("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action plugin")
}

func TestRegisterActionExecutorOverwritesSameName(t *testing.T) {
	r := New(nil)
	r.RegisterActionExecutor(&fakeActionExecutor{name: "widget", version: "1.0.0"})
	r.RegisterActionExecutor(&fakeActionExecutor{name: "widget", version: "2.0.0"})

	exec, err := r.GetActionExecutor("widget")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", exec.Version())
	assert.Equal(t, 1, r.Count())
}

func TestRegisterReconcilerPluginClaimsResourceTypes(t *testing.T) {
	r := New(nil)
	err := r.RegisterReconcilerPlugin(&fakeReconcilerPlugin{name: "widget-controller", resourceTypes: []string{"widget"}})
	require.NoError(t, err)

	rp, ok := r.GetReconcilerForResourceType("widget")
	require.True(t, ok)
	assert.Equal(t, "widget-controller", rp.Name())

	_, ok = r.GetReconcilerForResourceType("gadget")
	assert.False(t, ok)
}

func TestRegisterReconcilerPluginConflictingClaimFails(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterReconcilerPlugin(&fakeReconcilerPlugin{name: "first", resourceTypes: []string{"widget"}}))

	err := r.RegisterReconcilerPlugin(&fakeReconcilerPlugin{name: "second", resourceTypes: []string{"widget"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already claimed")

	// The failed registration must not have mutated anything: "first"
	// still owns "widget", and "second" was never registered.
	rp, ok := r.GetReconcilerForResourceType("widget")
	require.True(t, ok)
	assert.Equal(t, "first", rp.Name())
	assert.Len(t, r.ListReconcilerPlugins(), 1)
}

func TestRegisterInputSource(t *testing.T) {
	r := New(nil)
	src := &fakeInputSource{name: "poller", version: "1.0.0"}
	r.RegisterInputSource(src)

	got, err := r.GetInputSource("poller")
	require.NoError(t, err)
	assert.Equal(t, "poller", got.Name())

	_, err = r.GetInputSource("missing")
	assert.Error(t, err)
}

type fakeInputSource struct {
	name, version string
}

func (f *fakeInputSource) Name() string    { return f.name }
func (f *fakeInputSource) Version() string { return f.version }
func (f *fakeInputSource) Initialize(ctx context.Context, config map[string]any) error {
	return nil
}
func (f *fakeInputSource) Start(ctx context.Context, cb plugin.ResourceCallback) error {
	return nil
}
func (f *fakeInputSource) Stop(ctx context.Context) error { return nil }
func (f *fakeInputSource) HealthCheck(ctx context.Context) (bool, string) {
	return true, ""
}

func TestCountAcrossAllCatalogs(t *testing.T) {
	r := New(nil)
	r.RegisterActionExecutor(&fakeActionExecutor{name: "a", version: "1"})
	r.RegisterInputSource(&fakeInputSource{name: "b", version: "1"})
	require.NoError(t, r.RegisterReconcilerPlugin(&fakeReconcilerPlugin{name: "c", resourceTypes: []string{"widget"}}))
	assert.Equal(t, 3, r.Count())
}
