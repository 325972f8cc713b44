// Package api wraps the Store and Event Bus behind the single
// invariant-preserving surface external callers use: the admission
// chain always runs before a write lands, and a successful write always
// publishes the matching lifecycle event. Callers that need raw Store
// access for migrations or tests should use internal/store directly;
// everyone else goes through Facade.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wilsonge/no8s-operator/internal/admission"
	"github.com/wilsonge/no8s-operator/internal/apperrors"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/model"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/store"
	"github.com/wilsonge/no8s-operator/internal/validation"
)

// Facade is the public-facing wrapper named in spec.md §2. The zero
// value is not usable; construct with New.
type Facade struct {
	store store.Store
	bus   *eventbus.Bus
	chain *admission.Chain
	reg   *registry.Registry
}

// New builds a Facade. bus, chain, and reg may all be nil: a nil bus
// means events are never published, a nil chain means writes skip
// admission, a nil reg means an action_plugin reference is never
// checked against the plugin catalog (tests sometimes don't need one;
// cmd/operator does not construct a Facade).
func New(s store.Store, bus *eventbus.Bus, chain *admission.Chain, reg *registry.Registry) *Facade {
	return &Facade{store: s, bus: bus, chain: chain, reg: reg}
}

// CreateResource validates the name, payload sizes, and spec-against-
// schema (spec.md §7 ValidationError), runs the admission chain against
// the new resource's spec, persists it, and publishes a CREATED event.
func (f *Facade) CreateResource(ctx context.Context, r *model.Resource) (int64, error) {
	if err := f.validateWrite(ctx, r.Name, r.ResourceTypeName, r.ResourceTypeVersion, r.ActionPlugin, r.Spec, r.PluginConfig); err != nil {
		return 0, err
	}

	mutatedSpec, err := f.runAdmission(ctx, "create", r.Name, r.ResourceTypeName, r.ResourceTypeVersion, r.Spec, nil)
	if err != nil {
		return 0, err
	}
	r.Spec = mutatedSpec

	id, err := f.store.CreateResource(ctx, r)
	if err != nil {
		return 0, err
	}

	f.publish(ctx, eventbus.EventCreated, id)
	return id, nil
}

// UpdateResource validates the proposed spec, runs the admission chain
// against it (with the current spec as oldResource), then persists the
// new spec and bumps generation.
func (f *Facade) UpdateResource(ctx context.Context, id int64, spec json.RawMessage) error {
	existing, err := f.store.GetResource(ctx, id)
	if err != nil {
		return err
	}

	if err := f.validateWrite(ctx, existing.Name, existing.ResourceTypeName, existing.ResourceTypeVersion, existing.ActionPlugin, spec, existing.PluginConfig); err != nil {
		return err
	}

	mutatedSpec, err := f.runAdmission(ctx, "update", existing.Name, existing.ResourceTypeName, existing.ResourceTypeVersion, spec, existing.Spec)
	if err != nil {
		return err
	}

	if err := f.store.UpdateResourceSpec(ctx, id, mutatedSpec); err != nil {
		return err
	}

	f.publish(ctx, eventbus.EventModified, id)
	return nil
}

// validateWrite runs every write-path check from spec.md §7's
// ValidationError category, in the cheapest-first order: name format,
// payload size caps, unknown action_plugin, then the spec against its
// resource type's schema. None of these mutate the Store (spec.md §7:
// "no store mutation" on a ValidationError).
func (f *Facade) validateWrite(ctx context.Context, name, typeName, typeVersion, actionPlugin string, spec, pluginConfig json.RawMessage) error {
	if err := validation.ValidateName(name); err != nil {
		return err
	}
	if err := validation.ValidateSize("spec", spec); err != nil {
		return err
	}
	if len(pluginConfig) > 0 {
		if err := validation.ValidateSize("plugin_config", pluginConfig); err != nil {
			return err
		}
	}
	if f.reg != nil && actionPlugin != "" && !f.reg.HasActionExecutor(actionPlugin) {
		return apperrors.NewValidationError("unknown action plugin").WithDetailsf("action_plugin=%s", actionPlugin)
	}

	rt, err := f.store.GetResourceType(ctx, typeName, typeVersion)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return apperrors.NewValidationError("unknown resource type").WithDetailsf("%s/%s", typeName, typeVersion)
		}
		return err
	}
	if len(rt.JSONSchema) > 0 {
		if err := validation.ValidateSpecAgainstSchema(spec, rt.JSONSchema); err != nil {
			return err
		}
	}
	return nil
}

// DeleteResource runs the admission chain for the delete operation,
// then soft-deletes the resource so the finalizer-gated deletion
// protocol in the dispatcher can drain it.
func (f *Facade) DeleteResource(ctx context.Context, id int64) error {
	existing, err := f.store.GetResource(ctx, id)
	if err != nil {
		return err
	}

	if _, err := f.runAdmission(ctx, "delete", existing.Name, existing.ResourceTypeName, existing.ResourceTypeVersion, existing.Spec, existing.Spec); err != nil {
		return err
	}

	if err := f.store.SoftDeleteResource(ctx, id); err != nil {
		return err
	}

	f.publish(ctx, eventbus.EventDeleted, id)
	return nil
}

// AddFinalizer delegates to the Store.
func (f *Facade) AddFinalizer(ctx context.Context, id int64, finalizer string) error {
	return f.store.AddFinalizer(ctx, id, finalizer)
}

// RemoveFinalizer delegates to the Store, then attempts a hard delete if
// the resource is already deleting and no finalizers remain — the
// manual "force remove this stuck finalizer" path an operator drives
// from outside the dispatcher (spec.md §8 seed scenario 5).
func (f *Facade) RemoveFinalizer(ctx context.Context, id int64, finalizer string) error {
	if err := f.store.RemoveFinalizer(ctx, id, finalizer); err != nil {
		return err
	}

	r, err := f.store.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != model.StatusDeleting || len(r.Finalizers) > 0 {
		return nil
	}

	if _, err := f.store.HardDeleteResource(ctx, id); err != nil {
		return err
	}
	return nil
}

// SetCondition is a thin pass-through used by callers that report
// status without going through the dispatcher.
func (f *Facade) SetCondition(ctx context.Context, resourceID int64, cond model.Condition) error {
	return f.store.SetCondition(ctx, resourceID, cond)
}

// GetConditions is a thin pass-through for reading status without
// polling reconciliation history.
func (f *Facade) GetConditions(ctx context.Context, resourceID int64) ([]model.Condition, error) {
	return f.store.GetConditions(ctx, resourceID)
}

// TriggerReconciliation nudges a resource's next_reconcile_time to now,
// for a manual "reconcile this immediately" request.
func (f *Facade) TriggerReconciliation(ctx context.Context, resourceID int64) error {
	return f.store.MarkResourceForReconciliation(ctx, resourceID)
}

// runAdmission builds the wire-format resource payload spec.md §6
// describes ({name, resource_type_name, resource_type_version, spec})
// and passes it to the chain, so a webhook keying on the resource's
// identity fields (not just its spec) sees them populated, matching
// the original admission.py, which forwards the full request.resource.
func (f *Facade) runAdmission(ctx context.Context, operation, name, resourceTypeName, resourceTypeVersion string, spec, oldSpec json.RawMessage) (json.RawMessage, error) {
	if f.chain == nil {
		return spec, nil
	}

	var specMap, oldSpecMap map[string]any
	if err := json.Unmarshal(spec, &specMap); err != nil {
		return nil, apperrors.NewValidationError("invalid spec JSON").WithDetails(err.Error())
	}
	if len(oldSpec) > 0 {
		_ = json.Unmarshal(oldSpec, &oldSpecMap)
	}

	resource := map[string]any{
		"name":                  name,
		"resource_type_name":    resourceTypeName,
		"resource_type_version": resourceTypeVersion,
		"spec":                  specMap,
	}
	oldResource := map[string]any{
		"name":                  name,
		"resource_type_name":    resourceTypeName,
		"resource_type_version": resourceTypeVersion,
		"spec":                  oldSpecMap,
	}

	mutated, err := f.chain.Run(ctx, operation, resourceTypeName, resourceTypeVersion, resource, oldResource)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(mutated)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshaling admission-mutated spec")
	}
	return out, nil
}

func (f *Facade) publish(ctx context.Context, eventType eventbus.EventType, id int64) {
	if f.bus == nil {
		return
	}
	r, err := f.store.GetResource(ctx, id)
	if err != nil || r == nil {
		return
	}
	f.bus.Publish(eventbus.FromResource(eventType, r, time.Now().UTC()))
}
