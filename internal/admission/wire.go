package admission

import (
	"context"

	"github.com/wilsonge/no8s-operator/internal/model"
)

// Request is what the chain sends an admission webhook over HTTP.
type Request struct {
	Operation   string         `json:"operation"`
	Resource    map[string]any `json:"resource"`
	OldResource map[string]any `json:"old_resource,omitempty"`
}

// Response is the webhook's reply.
type Response struct {
	Allowed bool    `json:"allowed"`
	Message string  `json:"message,omitempty"`
	Patches []Patch `json:"patches,omitempty"`
}

// WebhookSource resolves the admission webhooks that apply to a given
// resource type and operation, ordered ascending. Implemented by the
// Store.
type WebhookSource interface {
	GetMatchingWebhooks(ctx context.Context, resourceTypeName, resourceTypeVersion, operation string) ([]model.AdmissionWebhook, error)
}
