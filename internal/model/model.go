// Package model holds the plain data types persisted and exchanged by
// the operator: resource types, resources, reconciliation history,
// conditions, admission webhooks. None of these carry behavior beyond
// small helpers; the Store and dispatcher own all logic.
package model

import (
	"encoding/json"
	"time"
)

// ResourceStatus is the lifecycle status of a Resource.
type ResourceStatus string

const (
	StatusPending     ResourceStatus = "pending"
	StatusReconciling ResourceStatus = "reconciling"
	StatusReady       ResourceStatus = "ready"
	StatusFailed      ResourceStatus = "failed"
	StatusDeleting    ResourceStatus = "deleting"
)

// WebhookType distinguishes mutating from validating admission webhooks.
type WebhookType string

const (
	WebhookMutating   WebhookType = "mutating"
	WebhookValidating WebhookType = "validating"
)

// FailurePolicy governs how an admission webhook call failure (transport
// error or 5xx) is handled.
type FailurePolicy string

const (
	FailurePolicyFail   FailurePolicy = "Fail"
	FailurePolicyIgnore FailurePolicy = "Ignore"
)

// ConditionStatus mirrors the three-valued Kubernetes-style condition
// status.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// Well-known condition types set by the dispatcher.
const (
	ConditionReady       = "Ready"
	ConditionReconciling = "Reconciling"
	ConditionDegraded    = "Degraded"
)

// ResourceTypeStatus marks a ResourceType as actively claimable or
// retained for existing resources only.
type ResourceTypeStatus string

const (
	ResourceTypeActive     ResourceTypeStatus = "active"
	ResourceTypeDeprecated ResourceTypeStatus = "deprecated"
)

// ResourceType describes a claimable kind of managed resource. (name,
// version) is its immutable identity; schema, description, status, and
// metadata may all be updated in place.
type ResourceType struct {
	ID          int64              `db:"id" json:"id"`
	Name        string             `db:"name" json:"name"`
	Version     string             `db:"version" json:"version"`
	JSONSchema  json.RawMessage    `db:"json_schema" json:"json_schema"`
	Description string             `db:"description" json:"description"`
	Status      ResourceTypeStatus `db:"status" json:"status"`
	Metadata    json.RawMessage    `db:"metadata" json:"metadata"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// Resource is a single declaratively-managed instance of a ResourceType.
type Resource struct {
	ID                  int64           `db:"id" json:"id"`
	Name                string          `db:"name" json:"name"`
	ResourceTypeName    string          `db:"resource_type_name" json:"resource_type_name"`
	ResourceTypeVersion string          `db:"resource_type_version" json:"resource_type_version"`
	ActionPlugin        string          `db:"action_plugin" json:"action_plugin"`
	Spec                json.RawMessage `db:"spec" json:"spec"`
	SpecHash            string          `db:"spec_hash" json:"spec_hash"`
	Status              ResourceStatus  `db:"status" json:"status"`
	StatusMessage       string          `db:"status_message" json:"status_message"`
	Generation          int64           `db:"generation" json:"generation"`
	ObservedGeneration  int64           `db:"observed_generation" json:"observed_generation"`
	Finalizers          []string        `db:"finalizers" json:"finalizers"`
	PluginConfig        json.RawMessage `db:"plugin_config" json:"plugin_config"`
	Metadata            json.RawMessage `db:"metadata" json:"metadata"`
	Outputs             json.RawMessage `db:"outputs" json:"outputs"`
	NextReconcileTime   *time.Time      `db:"next_reconcile_time" json:"next_reconcile_time,omitempty"`
	LastReconcileTime   *time.Time      `db:"last_reconcile_time" json:"last_reconcile_time,omitempty"`
	RetryCount          int             `db:"retry_count" json:"retry_count"`
	DeletedAt           *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// HasActionExecutor reports whether the dispatcher should drive this
// resource through an ActionExecutor directly, versus leaving it solely
// to a reconciler plugin that claimed its resource type (Open Question
// 2: an empty action_plugin means "no direct executor").
func (r *Resource) HasActionExecutor() bool {
	return r.ActionPlugin != ""
}

// Terminating reports whether the resource is in the finalizer-gated
// deletion protocol (soft-deleted, waiting on finalizers to drain).
func (r *Resource) Terminating() bool {
	return r.DeletedAt != nil
}

// Condition is a single status condition attached to a Resource.
type Condition struct {
	Type               string          `db:"type" json:"type"`
	Status             ConditionStatus `db:"status" json:"status"`
	Reason             string          `db:"reason" json:"reason"`
	Message            string          `db:"message" json:"message"`
	ObservedGeneration int64           `db:"observed_generation" json:"observed_generation"`
	LastTransitionTime time.Time       `db:"last_transition_time" json:"last_transition_time"`
}

// ReconciliationHistory is one recorded attempt to reconcile a resource.
type ReconciliationHistory struct {
	ID               int64     `db:"id" json:"id"`
	ResourceID       int64     `db:"resource_id" json:"resource_id"`
	Generation       int64     `db:"generation" json:"generation"`
	Success          bool      `db:"success" json:"success"`
	Phase            string    `db:"phase" json:"phase"`
	PlanOutput       string    `db:"plan_output" json:"plan_output,omitempty"`
	ApplyOutput      string    `db:"apply_output" json:"apply_output,omitempty"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	ResourcesCreated int       `db:"resources_created" json:"resources_created"`
	ResourcesUpdated int       `db:"resources_updated" json:"resources_updated"`
	ResourcesDeleted int       `db:"resources_deleted" json:"resources_deleted"`
	DurationSeconds  float64   `db:"duration_seconds" json:"duration_seconds"`
	TriggerReason    string    `db:"trigger_reason" json:"trigger_reason"`
	DriftDetected    bool      `db:"drift_detected" json:"drift_detected"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// AdmissionWebhook is a registered mutating or validating webhook.
type AdmissionWebhook struct {
	ID                  int64         `db:"id" json:"id"`
	Name                string        `db:"name" json:"name"`
	// ResourceTypeName/ResourceTypeVersion are nil when the webhook
	// matches every resource type (spec.md §3 AdmissionWebhook: "null
	// type/version fields mean 'match all'").
	ResourceTypeName    *string       `db:"resource_type_name" json:"resource_type_name"`
	ResourceTypeVersion *string       `db:"resource_type_version" json:"resource_type_version"`
	WebhookType         WebhookType   `db:"webhook_type" json:"webhook_type"`
	WebhookURL          string        `db:"webhook_url" json:"webhook_url"`
	Operations          []string      `db:"operations" json:"operations"`
	FailurePolicy       FailurePolicy `db:"failure_policy" json:"failure_policy"`
	TimeoutSeconds      int           `db:"timeout_seconds" json:"timeout_seconds"`
	Ordering            int           `db:"ordering" json:"ordering"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
}

// ReconciliationResult reports success/failure and an optional explicit
// requeue delay for one reconcile pass. ReconcilerPlugin.Reconcile
// returns plugin.ReconcileResult, not this type.
type ReconciliationResult struct {
	Success       bool
	Message       string
	RequeueAfter  *time.Duration
	DriftDetected bool
}
