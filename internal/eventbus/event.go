// Package eventbus is an in-process publish/subscribe bus broadcasting
// resource lifecycle events to interested subscribers (e.g. an SSE
// stream endpoint, though the HTTP transport itself is out of scope
// here). Delivery is best-effort: a slow subscriber drops events rather
// than blocking publishers.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wilsonge/no8s-operator/internal/model"
)

// EventType classifies a ResourceEvent.
type EventType string

const (
	EventCreated    EventType = "CREATED"
	EventModified   EventType = "MODIFIED"
	EventDeleted    EventType = "DELETED"
	EventReconciled EventType = "RECONCILED"
)

// ResourceEvent is the payload broadcast over the bus.
type ResourceEvent struct {
	Type                EventType       `json:"type"`
	ResourceID          int64           `json:"resource_id"`
	ResourceName        string          `json:"resource_name"`
	ResourceTypeName    string          `json:"resource_type_name"`
	ResourceTypeVersion string          `json:"resource_type_version"`
	Status              model.ResourceStatus `json:"status"`
	Timestamp           time.Time       `json:"timestamp"`
}

// FromResource builds a ResourceEvent of the given type from a Resource.
func FromResource(t EventType, r *model.Resource, at time.Time) ResourceEvent {
	return ResourceEvent{
		Type:                t,
		ResourceID:          r.ID,
		ResourceName:        r.Name,
		ResourceTypeName:    r.ResourceTypeName,
		ResourceTypeVersion: r.ResourceTypeVersion,
		Status:              r.Status,
		Timestamp:           at,
	}
}

// ToSSE renders the event in the text/event-stream wire format:
// "event: TYPE\ndata: {json}\n\n".
func (e ResourceEvent) ToSSE() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data), nil
}
