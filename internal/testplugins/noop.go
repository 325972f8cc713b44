// Package testplugins holds in-memory action executors that exercise
// the dispatcher and the Facade without a real external system: no HTTP
// calls, no subprocess, no filesystem writes. The entry point also
// registers these by default in local/dev mode, mirroring the original
// implementation's "noop" plugin used for its own seed tests
// (spec.md §8 seed scenarios reference "noop_success" directly).
package testplugins

import (
	"context"
	"sync"

	"github.com/wilsonge/no8s-operator/internal/plugin"
)

// NoopWorkspace is the opaque workspace handle NoopExecutor hands back
// from Prepare; it carries nothing but lets the dispatcher's generic
// phase protocol treat it like any real executor's workspace.
type NoopWorkspace struct {
	ResourceID int64
}

// NoopExecutor is a fully scriptable ActionExecutor: every phase's
// outcome is configured up front, so tests can exercise the full
// dispatcher phase protocol (prepare/plan/apply/destroy/cleanup)
// against known results instead of a real backend.
type NoopExecutor struct {
	PluginName    string
	PluginVersion string

	// PlanHasChanges controls whether Plan reports has_changes; when
	// false, the dispatcher's phase protocol completes without ever
	// calling Apply (spec.md §4.5.4 step 3).
	PlanHasChanges bool
	PlanSucceeds   bool
	ApplySucceeds  bool
	DestroySucceeds bool
	Outputs        map[string]any

	mu            sync.Mutex
	initCalls     int
	prepareCalls  int
	planCalls     int
	applyCalls    int
	destroyCalls  int
	cleanupCalls  int
	lastConfig    map[string]any
}

// NewNoopSuccess returns a NoopExecutor named "noop_success" whose every
// phase succeeds and whose Plan always reports changes, matching
// spec.md §8 seed scenario 1 ("Happy path").
func NewNoopSuccess() *NoopExecutor {
	return &NoopExecutor{
		PluginName:      "noop_success",
		PluginVersion:   "1.0.0",
		PlanHasChanges:  true,
		PlanSucceeds:    true,
		ApplySucceeds:   true,
		DestroySucceeds: true,
		Outputs:         map[string]any{"status": "applied"},
	}
}

// NewNoopNoChanges returns a NoopExecutor whose Plan reports no changes,
// matching spec.md §8 seed scenario 2 ("Plan-only, no changes").
func NewNoopNoChanges() *NoopExecutor {
	return &NoopExecutor{
		PluginName:     "noop_no_changes",
		PluginVersion:  "1.0.0",
		PlanHasChanges: false,
		PlanSucceeds:   true,
		ApplySucceeds:  true,
		DestroySucceeds: true,
	}
}

// NewNoopFailure returns a NoopExecutor whose Apply always fails,
// matching spec.md §8 seed scenario 3 ("Retry backoff").
func NewNoopFailure() *NoopExecutor {
	return &NoopExecutor{
		PluginName:     "noop_failure",
		PluginVersion:  "1.0.0",
		PlanHasChanges: true,
		PlanSucceeds:   true,
		ApplySucceeds:  false,
		DestroySucceeds: true,
	}
}

func (n *NoopExecutor) Name() string    { return n.PluginName }
func (n *NoopExecutor) Version() string { return n.PluginVersion }

func (n *NoopExecutor) Initialize(ctx context.Context, config map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initCalls++
	n.lastConfig = config
	return nil
}

func (n *NoopExecutor) ValidateSpec(ctx context.Context, spec map[string]any) (bool, string) {
	return true, ""
}

func (n *NoopExecutor) Prepare(ctx context.Context, actx plugin.ActionContext) (any, error) {
	n.mu.Lock()
	n.prepareCalls++
	n.mu.Unlock()
	return &NoopWorkspace{ResourceID: actx.ResourceID}, nil
}

func (n *NoopExecutor) Plan(ctx context.Context, actx plugin.ActionContext, workspace any) (plugin.ActionResult, error) {
	n.mu.Lock()
	n.planCalls++
	n.mu.Unlock()
	if !n.PlanSucceeds {
		return plugin.ActionResult{Success: false, ErrorMessage: "plan failed"}, nil
	}
	return plugin.ActionResult{
		Success:    true,
		PlanOutput: "no-op plan: would reconcile resource " + actx.ResourceName,
		HasChanges: n.PlanHasChanges,
	}, nil
}

func (n *NoopExecutor) Apply(ctx context.Context, actx plugin.ActionContext, workspace any) (plugin.ActionResult, error) {
	n.mu.Lock()
	n.applyCalls++
	n.mu.Unlock()
	if !n.ApplySucceeds {
		return plugin.ActionResult{Success: false, ErrorMessage: "apply failed: simulated error"}, nil
	}
	return plugin.ActionResult{
		Success:          true,
		ApplyOutput:      "no-op apply: resource " + actx.ResourceName + " applied",
		ResourcesUpdated: 1,
		Outputs:          n.Outputs,
	}, nil
}

func (n *NoopExecutor) Destroy(ctx context.Context, actx plugin.ActionContext, workspace any) (plugin.ActionResult, error) {
	n.mu.Lock()
	n.destroyCalls++
	n.mu.Unlock()
	if !n.DestroySucceeds {
		return plugin.ActionResult{Success: false, ErrorMessage: "destroy failed: simulated error"}, nil
	}
	return plugin.ActionResult{
		Success:          true,
		ApplyOutput:      "no-op destroy: resource " + actx.ResourceName + " destroyed",
		ResourcesDeleted: 1,
	}, nil
}

func (n *NoopExecutor) GetOutputs(ctx context.Context, actx plugin.ActionContext, workspace any) (map[string]any, error) {
	return n.Outputs, nil
}

func (n *NoopExecutor) GetState(ctx context.Context, actx plugin.ActionContext, workspace any) (map[string]any, error) {
	return nil, nil
}

func (n *NoopExecutor) Cleanup(ctx context.Context, workspace any) error {
	n.mu.Lock()
	n.cleanupCalls++
	n.mu.Unlock()
	return nil
}

// CallCounts returns how many times each phase has been invoked, for
// tests asserting the dispatcher drove the expected sequence.
func (n *NoopExecutor) CallCounts() (initialize, prepare, plan, apply, destroy, cleanup int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.initCalls, n.prepareCalls, n.planCalls, n.applyCalls, n.destroyCalls, n.cleanupCalls
}

var _ plugin.ActionExecutor = (*NoopExecutor)(nil)
