// Package admission implements the mutating/validating webhook chain
// that runs before every resource mutation, and the JSON-Patch subset
// (add/replace/remove) mutating webhooks use to modify a spec.
package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
	"github.com/wilsonge/no8s-operator/internal/model"
)

var tracer = otel.Tracer("no8s-operator/admission")

// Chain orchestrates the mutating-then-validating webhook sequence for
// a single admission request.
type Chain struct {
	webhooks   WebhookSource
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewChain builds a Chain backed by the given webhook source. httpClient
// may be nil, in which case http.DefaultClient is used (with a
// per-call timeout override from the webhook's TimeoutSeconds).
func NewChain(webhooks WebhookSource, httpClient *http.Client) *Chain {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Chain{
		webhooks:   webhooks,
		httpClient: httpClient,
		breakers:   map[string]*gobreaker.CircuitBreaker{},
	}
}

// Run executes the admission chain for a create/update/delete
// operation against resourceTypeName/Version, returning the
// (potentially mutated) spec, or an *apperrors.AppError of type
// ErrorTypeAdmission if a webhook denies the request.
func (c *Chain) Run(ctx context.Context, operation, resourceTypeName, resourceTypeVersion string, resource, oldResource map[string]any) (map[string]any, error) {
	webhooks, err := c.webhooks.GetMatchingWebhooks(ctx, resourceTypeName, resourceTypeVersion, operation)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransient, "looking up admission webhooks")
	}
	if len(webhooks) == 0 {
		spec, _ := resource["spec"].(map[string]any)
		return spec, nil
	}

	var mutating, validating []model.AdmissionWebhook
	for _, w := range webhooks {
		switch w.WebhookType {
		case model.WebhookMutating:
			mutating = append(mutating, w)
		case model.WebhookValidating:
			validating = append(validating, w)
		}
	}

	spec, _ := resource["spec"].(map[string]any)

	for _, w := range mutating {
		resp, err := c.callWebhook(ctx, w, operation, resource, oldResource)
		if err != nil {
			return nil, err
		}
		if !resp.Allowed {
			return nil, deniedError(resp, w, "mutating")
		}
		if len(resp.Patches) > 0 {
			spec, err = ApplyPatches(spec, resp.Patches)
			if err != nil {
				return nil, err
			}
			resource["spec"] = spec
		}
	}

	for _, w := range validating {
		resp, err := c.callWebhook(ctx, w, operation, resource, oldResource)
		if err != nil {
			return nil, err
		}
		if !resp.Allowed {
			return nil, deniedError(resp, w, "validating")
		}
	}

	return spec, nil
}

func deniedError(resp Response, w model.AdmissionWebhook, kind string) error {
	msg := resp.Message
	if msg == "" {
		msg = "denied by " + kind + " webhook " + w.Name
	}
	return apperrors.NewAdmissionError(msg)
}

func (c *Chain) breakerFor(w model.AdmissionWebhook) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[w.Name]; ok {
		return b
	}

	// Webhooks configured Ignore already tolerate failure; give them a
	// higher trip threshold than Fail webhooks, whose callers expect a
	// hard stop on the first sign of trouble.
	maxRequests := uint32(1)
	failureThreshold := 0.6
	if w.FailurePolicy == model.FailurePolicyIgnore {
		failureThreshold = 0.9
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        w.Name,
		MaxRequests: maxRequests,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureThreshold
		},
	})
	c.breakers[w.Name] = b
	return b
}

func (c *Chain) callWebhook(ctx context.Context, w model.AdmissionWebhook, operation string, resource, oldResource map[string]any) (Response, error) {
	ctx, span := tracer.Start(ctx, "admission.call_webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.name", w.Name),
		attribute.String("webhook.type", string(w.WebhookType)),
	)

	breaker := c.breakerFor(w)
	result, err := breaker.Execute(func() (any, error) {
		return c.doCall(ctx, w, operation, resource, oldResource)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if w.FailurePolicy == model.FailurePolicyIgnore {
			return Response{Allowed: true, Message: "webhook error ignored"}, nil
		}
		return Response{}, apperrors.Wrapf(err, apperrors.ErrorTypeAdmission, "admission webhook %s failed", w.Name)
	}
	return result.(Response), nil
}

func (c *Chain) doCall(ctx context.Context, w model.AdmissionWebhook, operation string, resource, oldResource map[string]any) (Response, error) {
	payload := Request{Operation: operation, Resource: resource, OldResource: oldResource}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	timeout := time.Duration(w.TimeoutSeconds) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Response{}, apperrors.New(apperrors.ErrorTypeTransient, "webhook returned server error").WithDetailsf("status=%d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, err
	}
	return out, nil
}
