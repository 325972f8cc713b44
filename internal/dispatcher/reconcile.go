package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/logging"
	"github.com/wilsonge/no8s-operator/internal/model"
	"github.com/wilsonge/no8s-operator/internal/plugin"
)

// determineTriggerReason classifies why a resource was picked up,
// matching spec.md §4.5.3's priority order exactly.
func determineTriggerReason(r model.Resource) string {
	switch {
	case r.LastReconcileTime == nil:
		return "initial"
	case r.Generation > r.ObservedGeneration:
		return "spec_change"
	case r.Status == model.StatusDeleting:
		return "deletion"
	case r.Status == model.StatusFailed:
		return "retry"
	default:
		return "scheduled"
	}
}

// reconcileResource runs one resource through the full reconcile task:
// mark reconciling, execute the phase protocol, apply the finalization
// branch, and record history. Every step after the initial status
// update is best-effort logged rather than fatal to the task — a
// failure recording a condition must not mask the underlying reconcile
// outcome.
func (d *Dispatcher) reconcileResource(ctx context.Context, r model.Resource) {
	ctx, span := tracer.Start(ctx, "reconcile_resource")
	defer span.End()

	if d.metrics != nil {
		d.metrics.ReconcileInFlight.Inc()
		defer d.metrics.ReconcileInFlight.Dec()
	}

	start := time.Now()
	triggerReason := determineTriggerReason(r)
	log := d.log.WithName(r.Name)

	if err := d.store.UpdateResourceStatus(ctx, r.ID, model.StatusReconciling, "Starting reconciliation", nil); err != nil {
		log.Error("failed to mark resource reconciling", logging.NewFields().Error(err).Slice()...)
	}
	d.setCondition(ctx, r.ID, model.ConditionReconciling, model.ConditionTrue, "ReconcileStarted", "Reconciliation has started", r.Generation)
	d.setCondition(ctx, r.ID, model.ConditionReady, model.ConditionUnknown, "ReconcileStarted", "Reconciliation in progress", r.Generation)

	result, execErr := func() (res plugin.ActionResult, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("reconcile panic: %v", p)
			}
		}()
		return d.executeReconciliation(ctx, r)
	}()
	if execErr != nil {
		result.Success = false
		result.Phase = plugin.PhaseFailed
		result.ErrorMessage = execErr.Error()
	}

	driftDetected := triggerReason == "scheduled" && result.HasChanges

	if result.Success {
		d.finalizeSuccess(ctx, r, result, triggerReason)
	} else {
		d.finalizeFailure(ctx, r, result)
	}

	duration := time.Since(start)
	if d.metrics != nil {
		d.metrics.ReconcileTotal.WithLabelValues(triggerReason, outcomeLabel(result.Success)).Inc()
		d.metrics.ReconcileDuration.WithLabelValues(r.ActionPlugin).Observe(duration.Seconds())
	}

	if err := d.store.RecordReconciliation(ctx, model.ReconciliationHistory{
		ResourceID:       r.ID,
		Generation:       r.Generation,
		Success:          result.Success,
		Phase:            string(result.Phase),
		PlanOutput:       result.PlanOutput,
		ApplyOutput:      result.ApplyOutput,
		ErrorMessage:     result.ErrorMessage,
		ResourcesCreated: result.ResourcesCreated,
		ResourcesUpdated: result.ResourcesUpdated,
		ResourcesDeleted: result.ResourcesDeleted,
		DurationSeconds:  duration.Seconds(),
		TriggerReason:    triggerReason,
		DriftDetected:    driftDetected,
	}); err != nil {
		log.Error("failed to record reconciliation history", logging.NewFields().Error(err).Slice()...)
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (d *Dispatcher) setCondition(ctx context.Context, resourceID int64, condType string, status model.ConditionStatus, reason, message string, generation int64) {
	err := d.store.SetCondition(ctx, resourceID, model.Condition{
		Type:               condType,
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
	})
	if err != nil {
		d.log.Error("failed to set condition", logging.NewFields().Operation(condType).Error(err).Slice()...)
	}
}

// finalizeSuccess applies the two success branches of spec.md §4.5.3
// step 5: a routine success marks the resource ready, a success on a
// deleting resource removes this executor's finalizer and hard-deletes
// once no finalizers remain.
func (d *Dispatcher) finalizeSuccess(ctx context.Context, r model.Resource, result plugin.ActionResult, triggerReason string) {
	log := d.log.WithName(r.Name)

	if r.Status == model.StatusDeleting {
		d.setCondition(ctx, r.ID, model.ConditionReconciling, model.ConditionFalse, "Deleting", "Resource is being deleted", r.Generation)
		d.setCondition(ctx, r.ID, model.ConditionReady, model.ConditionUnknown, "Deleting", "Resource is being deleted", r.Generation)

		if r.ActionPlugin != "" {
			if err := d.store.RemoveFinalizer(ctx, r.ID, r.ActionPlugin); err != nil {
				log.Error("failed to remove finalizer", logging.NewFields().Error(err).Slice()...)
			}
		}
		remaining, err := d.store.GetFinalizers(ctx, r.ID)
		if err != nil {
			log.Error("failed to read finalizers", logging.NewFields().Error(err).Slice()...)
			return
		}
		if len(remaining) == 0 {
			if _, err := d.store.HardDeleteResource(ctx, r.ID); err != nil {
				log.Error("failed to hard-delete resource", logging.NewFields().Error(err).Slice()...)
			} else {
				log.Info("destroyed and deleted resource")
			}
		} else {
			log.Info("finalizer removed, waiting on remaining finalizers")
		}
		return
	}

	generation := r.Generation
	if err := d.store.UpdateResourceStatus(ctx, r.ID, model.StatusReady, "Reconciliation successful", &generation); err != nil {
		log.Error("failed to mark resource ready", logging.NewFields().Error(err).Slice()...)
	}
	d.setCondition(ctx, r.ID, model.ConditionReady, model.ConditionTrue, "ReconcileSuccess", "Resource reconciled successfully", r.Generation)
	d.setCondition(ctx, r.ID, model.ConditionReconciling, model.ConditionFalse, "ReconcileComplete", "Reconciliation completed", r.Generation)
	d.setCondition(ctx, r.ID, model.ConditionDegraded, model.ConditionFalse, "NoErrors", "", r.Generation)
	log.Info("successfully reconciled resource")

	if d.bus != nil {
		updated, err := d.store.GetResource(ctx, r.ID)
		if err == nil && updated != nil {
			d.bus.Publish(eventbus.FromResource(eventbus.EventReconciled, updated, time.Now().UTC()))
		}
	}
}

func (d *Dispatcher) finalizeFailure(ctx context.Context, r model.Resource, result plugin.ActionResult) {
	log := d.log.WithName(r.Name)
	errMsg := result.ErrorMessage
	if errMsg == "" {
		errMsg = "Reconciliation failed"
	}

	if err := d.store.UpdateResourceStatus(ctx, r.ID, model.StatusFailed, errMsg, nil); err != nil {
		log.Error("failed to mark resource failed", logging.NewFields().Error(err).Slice()...)
	}
	d.setCondition(ctx, r.ID, model.ConditionReady, model.ConditionFalse, "ReconcileFailed", errMsg, r.Generation)
	d.setCondition(ctx, r.ID, model.ConditionReconciling, model.ConditionFalse, "ReconcileFailed", "", r.Generation)
	d.setCondition(ctx, r.ID, model.ConditionDegraded, model.ConditionTrue, "ReconcileFailed", errMsg, r.Generation)
	log.Error("failed to reconcile resource", logging.NewFields().Operation("reconcile").Slice()...)
}

// executeReconciliation runs the prepare -> plan -> apply|destroy ->
// cleanup phase protocol (spec.md §4.5.4) against the resource's
// action executor. A resource with no action_plugin (Open Question 2:
// solely owned by a reconciler plugin) is reported as an immediate,
// no-op success so the dispatcher never tries to dereference a missing
// executor.
func (d *Dispatcher) executeReconciliation(ctx context.Context, r model.Resource) (plugin.ActionResult, error) {
	if !r.HasActionExecutor() {
		return plugin.ActionResult{Success: true, Phase: plugin.PhaseCompleted}, nil
	}

	var specMap, pluginConfigMap map[string]any
	_ = json.Unmarshal(r.Spec, &specMap)
	_ = json.Unmarshal(r.PluginConfig, &pluginConfigMap)

	executor, err := d.getActionExecutor(ctx, r.ActionPlugin, pluginConfigMap)
	if err != nil {
		return plugin.ActionResult{}, err
	}

	actx := plugin.ActionContext{
		ResourceID:   r.ID,
		ResourceName: r.Name,
		Generation:   r.Generation,
		Spec:         specMap,
		SpecHash:     r.SpecHash,
		PluginConfig: pluginConfigMap,
	}

	result := plugin.ActionResult{Phase: plugin.PhaseInitializing}
	workspace, err := executor.Prepare(ctx, actx)
	if err != nil {
		return plugin.ActionResult{Phase: plugin.PhaseFailed, ErrorMessage: err.Error()}, nil
	}
	defer func() {
		if cerr := executor.Cleanup(ctx, workspace); cerr != nil {
			d.log.Error("error cleaning up workspace", logging.NewFields().Resource(r.ResourceTypeName, r.Name).Error(cerr).Slice()...)
		}
	}()

	result.Phase = plugin.PhasePlanning
	planResult, err := executor.Plan(ctx, actx, workspace)
	if err != nil {
		return plugin.ActionResult{Phase: plugin.PhaseFailed, ErrorMessage: err.Error()}, nil
	}
	result.PlanOutput = planResult.PlanOutput
	result.HasChanges = planResult.HasChanges
	if !planResult.Success {
		msg := planResult.ErrorMessage
		if msg == "" {
			msg = "Plan failed"
		}
		return plugin.ActionResult{Phase: plugin.PhaseFailed, ErrorMessage: msg, PlanOutput: planResult.PlanOutput}, nil
	}

	if r.Status == model.StatusDeleting {
		result.Phase = plugin.PhaseDestroying
		destroyResult, err := executor.Destroy(ctx, actx, workspace)
		if err != nil {
			return plugin.ActionResult{Phase: plugin.PhaseFailed, ErrorMessage: err.Error(), PlanOutput: result.PlanOutput}, nil
		}
		destroyResult.PlanOutput = result.PlanOutput
		if destroyResult.Success {
			destroyResult.Phase = plugin.PhaseCompleted
		} else {
			destroyResult.Phase = plugin.PhaseFailed
		}
		return destroyResult, nil
	}

	if !planResult.HasChanges {
		result.Success = true
		result.Phase = plugin.PhaseCompleted
		return result, nil
	}

	result.Phase = plugin.PhaseApplying
	applyResult, err := executor.Apply(ctx, actx, workspace)
	if err != nil {
		return plugin.ActionResult{Phase: plugin.PhaseFailed, ErrorMessage: err.Error(), PlanOutput: result.PlanOutput}, nil
	}
	result.ApplyOutput = applyResult.ApplyOutput
	result.ResourcesCreated = applyResult.ResourcesCreated
	result.ResourcesUpdated = applyResult.ResourcesUpdated
	result.ResourcesDeleted = applyResult.ResourcesDeleted
	if !applyResult.Success {
		msg := applyResult.ErrorMessage
		if msg == "" {
			msg = "Apply failed"
		}
		result.Phase = plugin.PhaseFailed
		result.ErrorMessage = msg
		return result, nil
	}

	if len(applyResult.Outputs) > 0 {
		outputsJSON, merr := json.Marshal(applyResult.Outputs)
		if merr == nil {
			if err := d.store.SetOutputs(ctx, r.ID, outputsJSON); err != nil {
				d.log.Error("failed to persist outputs", logging.NewFields().Resource(r.ResourceTypeName, r.Name).Error(err).Slice()...)
			}
		}
	}

	result.Success = true
	result.Phase = plugin.PhaseCompleted
	return result, nil
}
