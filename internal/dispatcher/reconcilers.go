package dispatcher

import (
	"context"
	"time"

	"github.com/wilsonge/no8s-operator/internal/model"
	"github.com/wilsonge/no8s-operator/internal/plugin"
	"github.com/wilsonge/no8s-operator/internal/store"
)

// reconcilerContext is the dispatcher's implementation of
// plugin.ReconcilerContext, giving a ReconcilerPlugin a narrow view of
// the Store without importing it directly (plugin sits below store in
// the dependency graph). Action executor lookups are delegated back to
// the owning Dispatcher so a reconciler plugin shares the same
// cached/initialized executor instances as the poll loop.
type reconcilerContext struct {
	store      store.Store
	dispatcher *Dispatcher
	done       <-chan struct{}
}

func (c *reconcilerContext) ResourcesNeedingReconciliation(ctx context.Context, resourceTypeNames []string, limit int) ([]model.Resource, error) {
	return c.store.GetResourcesNeedingReconciliationByType(ctx, resourceTypeNames, limit)
}

func (c *reconcilerContext) UpdateStatus(ctx context.Context, resourceID int64, status model.ResourceStatus, message string, observedGeneration *int64) error {
	return c.store.UpdateResourceStatus(ctx, resourceID, status, message, observedGeneration)
}

func (c *reconcilerContext) GetActionExecutor(name string) (plugin.ActionExecutor, error) {
	return c.dispatcher.getActionExecutor(context.Background(), name, nil)
}

func (c *reconcilerContext) RecordReconciliation(ctx context.Context, resourceID int64, result plugin.ReconcileResult, duration time.Duration, triggerReason string, driftDetected bool) error {
	phase := "completed"
	if !result.Success {
		phase = "failed"
	}
	return c.store.RecordReconciliation(ctx, model.ReconciliationHistory{
		ResourceID:      resourceID,
		Success:         result.Success,
		Phase:           phase,
		ErrorMessage:    errorMessageFor(result),
		DurationSeconds: duration.Seconds(),
		TriggerReason:   triggerReason,
		DriftDetected:   driftDetected,
	})
}

func errorMessageFor(result plugin.ReconcileResult) string {
	if result.Success {
		return ""
	}
	return result.Message
}

func (c *reconcilerContext) RemoveFinalizer(ctx context.Context, resourceID int64, finalizer string) error {
	return c.store.RemoveFinalizer(ctx, resourceID, finalizer)
}

func (c *reconcilerContext) GetFinalizers(ctx context.Context, resourceID int64) ([]string, error) {
	return c.store.GetFinalizers(ctx, resourceID)
}

func (c *reconcilerContext) HardDeleteResource(ctx context.Context, resourceID int64) (bool, error) {
	return c.store.HardDeleteResource(ctx, resourceID)
}

func (c *reconcilerContext) Done() <-chan struct{} {
	return c.done
}
