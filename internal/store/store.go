// Package store is the persistence layer: every mutation to a
// ResourceType, Resource, Condition, or AdmissionWebhook goes through
// exactly one Store method, and each method runs as a single
// transaction, so Store callers never observe a partially-applied
// write.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wilsonge/no8s-operator/internal/model"
)

// Store is the full persistence contract backing the reconciliation
// engine. The concrete implementation is PGStore (Postgres via
// pgx+sqlx); tests may substitute a sqlmock-backed *PGStore or a fake
// implementing this interface directly.
type Store interface {
	// Resource types

	CreateResourceType(ctx context.Context, rt *model.ResourceType) (int64, error)
	GetResourceType(ctx context.Context, name, version string) (*model.ResourceType, error)
	ListResourceTypes(ctx context.Context, name string, limit int) ([]model.ResourceType, error)

	// UpdateResourceType updates the schema, description, and status of
	// an existing resource type in place; (name, version) identity never
	// changes.
	UpdateResourceType(ctx context.Context, id int64, schema json.RawMessage, description string, status model.ResourceTypeStatus) error

	// DeleteResourceType removes a resource type, returning a conflict
	// error if any resource still references it.
	DeleteResourceType(ctx context.Context, name, version string) error

	// Resources

	CreateResource(ctx context.Context, r *model.Resource) (int64, error)
	GetResource(ctx context.Context, id int64) (*model.Resource, error)
	GetResourceByName(ctx context.Context, name, resourceTypeName, resourceTypeVersion string) (*model.Resource, error)
	UpdateResourceSpec(ctx context.Context, id int64, spec json.RawMessage) error
	ListResources(ctx context.Context, status model.ResourceStatus, actionPlugin string, limit int) ([]model.Resource, error)

	// UpdateResourceStatus sets status/message and, when non-nil,
	// observedGeneration, for one resource.
	UpdateResourceStatus(ctx context.Context, id int64, status model.ResourceStatus, message string, observedGeneration *int64) error

	// GetResourcesNeedingReconciliation selects resources eligible for
	// reconciliation right now (never reconciled, generation ahead of
	// observed_generation, next_reconcile_time due, or deleting),
	// skipping rows already reconciling, locking the selected
	// rows FOR UPDATE SKIP LOCKED and flipping their status to
	// reconciling within the same transaction, so no two callers ever
	// receive the same resource.
	GetResourcesNeedingReconciliation(ctx context.Context, limit int) ([]model.Resource, error)

	// GetResourcesNeedingReconciliationByType is the reconciler-scoped
	// variant used by ReconcilerContext: same eligibility + locking
	// rules, filtered to the given resource type names.
	GetResourcesNeedingReconciliationByType(ctx context.Context, resourceTypeNames []string, limit int) ([]model.Resource, error)

	MarkResourceForReconciliation(ctx context.Context, id int64) error

	// SoftDeleteResource sets deleted_at to now; the row is retained
	// until finalizers drain and HardDeleteResource succeeds.
	SoftDeleteResource(ctx context.Context, id int64) error

	// HardDeleteResource permanently removes a resource row, but only
	// if deleted_at is set and finalizers is empty. Returns false, nil
	// (not an error) when the precondition isn't met.
	HardDeleteResource(ctx context.Context, id int64) (bool, error)

	AddFinalizer(ctx context.Context, id int64, finalizer string) error
	RemoveFinalizer(ctx context.Context, id int64, finalizer string) error
	GetFinalizers(ctx context.Context, id int64) ([]string, error)

	SetOutputs(ctx context.Context, id int64, outputs json.RawMessage) error

	// Requeue scheduling

	// GetResourcesDueForRequeue returns failed resources whose
	// next_reconcile_time has passed, for the requeue loop to re-enqueue.
	GetResourcesDueForRequeue(ctx context.Context, now time.Time, limit int) ([]model.Resource, error)
	ScheduleRequeue(ctx context.Context, id int64, nextReconcileTime time.Time) error

	// Conditions

	SetCondition(ctx context.Context, resourceID int64, cond model.Condition) error
	GetConditions(ctx context.Context, resourceID int64) ([]model.Condition, error)

	// Reconciliation history

	RecordReconciliation(ctx context.Context, h model.ReconciliationHistory) error
	GetReconciliationHistory(ctx context.Context, resourceID int64, limit int) ([]model.ReconciliationHistory, error)

	// Admission webhooks

	CreateAdmissionWebhook(ctx context.Context, w *model.AdmissionWebhook) (int64, error)
	GetMatchingWebhooks(ctx context.Context, resourceTypeName, resourceTypeVersion, operation string) ([]model.AdmissionWebhook, error)

	Close() error
}
