package plugin

import (
	"context"
	"time"

	"github.com/wilsonge/no8s-operator/internal/model"
)

// ReconcileResult is returned by a ReconcilerPlugin's Reconcile call.
type ReconcileResult struct {
	Success      bool
	Message      string
	RequeueAfter *time.Duration
}

// ReconcilerContext is the operator-provided surface a ReconcilerPlugin
// uses to read resources needing attention and report back status,
// without depending on the Store or Registry packages directly (which
// would create an import cycle: store/registry are higher-level than
// plugin).
type ReconcilerContext interface {
	// ResourcesNeedingReconciliation returns resources whose resource
	// type is in resourceTypeNames and which are due for reconciliation,
	// most urgent first, up to limit.
	ResourcesNeedingReconciliation(ctx context.Context, resourceTypeNames []string, limit int) ([]model.Resource, error)

	UpdateStatus(ctx context.Context, resourceID int64, status model.ResourceStatus, message string, observedGeneration *int64) error

	GetActionExecutor(name string) (ActionExecutor, error)

	RecordReconciliation(ctx context.Context, resourceID int64, result ReconcileResult, duration time.Duration, triggerReason string, driftDetected bool) error

	RemoveFinalizer(ctx context.Context, resourceID int64, finalizer string) error

	GetFinalizers(ctx context.Context, resourceID int64) ([]string, error)

	// HardDeleteResource permanently removes a resource if it is
	// soft-deleted and has no remaining finalizers. Returns false,nil
	// (not an error) if the precondition isn't met.
	HardDeleteResource(ctx context.Context, resourceID int64) (bool, error)

	// Done is closed when the operator is shutting down; a reconciler's
	// Start loop should select on it to exit promptly.
	Done() <-chan struct{}
}

// ReconcilerPlugin owns the reconciliation loop for one or more
// resource types, claimed exclusively at registration time.
type ReconcilerPlugin interface {
	Name() string
	ResourceTypes() []string

	// Start runs the reconciler's own continuous loop, reading from
	// ctx.ResourcesNeedingReconciliation and calling Reconcile. It
	// returns when ctx.Done() is closed or an unrecoverable error
	// occurs.
	Start(ctx context.Context, rctx ReconcilerContext) error

	// Reconcile reconciles a single resource, comparing desired state
	// against actual and taking action, reporting status via rctx.
	Reconcile(ctx context.Context, resource model.Resource, rctx ReconcilerContext) (ReconcileResult, error)

	Stop(ctx context.Context) error
}
