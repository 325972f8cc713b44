// Package plugin defines the three plugin contracts the operator is
// built around: ActionExecutor (owns prepare/plan/apply/destroy for one
// external system), InputSource (feeds resource specs in from outside),
// and ReconcilerPlugin (owns the reconciliation loop for one or more
// resource types).
package plugin

import "context"

// ActionPhase names a step of the prepare -> plan -> apply|destroy
// protocol, recorded on an ActionResult and carried into history.
type ActionPhase string

const (
	PhasePending      ActionPhase = "pending"
	PhaseInitializing ActionPhase = "initializing"
	PhasePlanning     ActionPhase = "planning"
	PhaseApplying     ActionPhase = "applying"
	PhaseDestroying   ActionPhase = "destroying"
	PhaseCompleted    ActionPhase = "completed"
	PhaseFailed       ActionPhase = "failed"
)

// ActionContext carries the resource details an ActionExecutor needs
// for every phase call: identity, the generation being reconciled, the
// spec itself, and the merged plugin configuration (global config
// overridden by the resource's own plugin_config).
type ActionContext struct {
	ResourceID   int64
	ResourceName string
	Generation   int64
	Spec         map[string]any
	SpecHash     string
	PluginConfig map[string]any
}

// ActionResult is the standard return shape of Plan, Apply, and Destroy:
// a plain struct, not a type hierarchy, matching Design Note 9.2.
type ActionResult struct {
	Success          bool
	Phase            ActionPhase
	PlanOutput       string
	ApplyOutput      string
	ErrorMessage     string
	ResourcesCreated int
	ResourcesUpdated int
	ResourcesDeleted int
	Outputs          map[string]any
	HasChanges       bool
}

// DriftResult is returned by an optional DriftDetector.
type DriftResult struct {
	HasDrift        bool
	DriftDetails    string
	ResourcesDrift  int
	ErrorMessage    string
}

// ActionExecutor owns the prepare -> plan -> apply|destroy -> cleanup
// phase protocol for one external system. Each executor claims a
// disjoint action_plugin name; the dispatcher looks one up per resource
// by that name.
type ActionExecutor interface {
	Name() string
	Version() string

	// Initialize is called by the dispatcher every time it obtains the
	// executor for a resource, with the plugin's global configuration
	// merged with that resource's plugin_config.
	Initialize(ctx context.Context, config map[string]any) error

	// ValidateSpec checks a resource spec against this executor's
	// requirements, returning false and a reason when the spec does not
	// meet them. Neither the dispatcher nor the Facade calls it.
	ValidateSpec(ctx context.Context, spec map[string]any) (bool, string)

	// Prepare performs any setup needed before planning (e.g. acquiring
	// a lock, initializing a backend) and returns an opaque workspace
	// handle passed to every subsequent phase call.
	Prepare(ctx context.Context, actx ActionContext) (any, error)

	// Plan computes the set of changes Apply would make, without
	// making them.
	Plan(ctx context.Context, actx ActionContext, workspace any) (ActionResult, error)

	// Apply makes the spec's desired state real.
	Apply(ctx context.Context, actx ActionContext, workspace any) (ActionResult, error)

	// Destroy tears down everything Apply created.
	Destroy(ctx context.Context, actx ActionContext, workspace any) (ActionResult, error)

	// GetOutputs returns the last-known outputs without applying
	// anything.
	GetOutputs(ctx context.Context, actx ActionContext, workspace any) (map[string]any, error)

	// GetState returns the executor's view of the resource's actual
	// state, used for drift detection. A nil map means no state exists.
	GetState(ctx context.Context, actx ActionContext, workspace any) (map[string]any, error)

	// Cleanup releases any resources Prepare acquired. Always called,
	// even when Plan/Apply/Destroy fail.
	Cleanup(ctx context.Context, workspace any) error
}

// DriftDetector is an optional capability an ActionExecutor may
// implement to report whether actual state has drifted from spec. Go
// has no equivalent of a base-class default method, so executors that
// don't need drift detection simply don't implement this interface
// rather than inheriting a no-op.
type DriftDetector interface {
	DetectDrift(ctx context.Context, actx ActionContext, workspace any) (DriftResult, error)
}

// ConfigLoader lets an executor type describe how it reads its own
// configuration from the environment, mirroring
// ActionPlugin.load_config_from_env in the original implementation.
// Implemented on the concrete type, not the instance, since it runs
// before any instance is constructed.
type ConfigLoader func() map[string]any
