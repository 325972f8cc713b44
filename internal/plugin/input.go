package plugin

import "context"

// ResourceEventType classifies a callback from an InputSource.
type ResourceEventType string

const (
	ResourceEventCreated ResourceEventType = "created"
	ResourceEventUpdated ResourceEventType = "updated"
	ResourceEventDeleted ResourceEventType = "deleted"
)

// ResourceSpec is the opaque payload an InputSource hands the operator
// when a resource is created, updated, or deleted from outside.
type ResourceSpec struct {
	Name                string
	ResourceTypeName    string
	ResourceTypeVersion string
	Spec                map[string]any
}

// ResourceCallback is invoked by an InputSource whenever it observes a
// resource event from its external source.
type ResourceCallback func(ctx context.Context, eventType ResourceEventType, spec ResourceSpec) error

// InputSource provides a mechanism for submitting resources from
// outside the operator (an HTTP API, a GitOps watcher, a queue
// listener). Sources are held in the Registry; neither the dispatcher
// nor the entry point starts or stops them.
type InputSource interface {
	Name() string
	Version() string

	Initialize(ctx context.Context, config map[string]any) error

	// Start begins listening for resource events, invoking callback for
	// each one. It returns once the source has begun listening, or on
	// failure to start; event delivery continues on its own goroutine(s)
	// until Stop is called.
	Start(ctx context.Context, callback ResourceCallback) error

	Stop(ctx context.Context) error

	// HealthCheck reports whether the source is currently healthy.
	HealthCheck(ctx context.Context) (bool, string)
}
