package admission

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker"

	"github.com/wilsonge/no8s-operator/internal/model"
)

// Exercises the per-webhook circuit breaker: a Fail-policy webhook that
// errors repeatedly must eventually deny requests outright, while an
// Ignore-policy webhook in the same state must keep letting requests
// through. Grounded on chain.go's breakerFor, which gives Ignore
// webhooks a higher trip threshold than Fail webhooks.
var _ = Describe("Chain circuit breaker", func() {
	var src *fakeWebhookSource

	BeforeEach(func() {
		src = &fakeWebhookSource{}
	})

	Context("when a Fail-policy webhook's endpoint is unreachable", func() {
		var chain *Chain
		var webhook model.AdmissionWebhook

		BeforeEach(func() {
			webhook = model.AdmissionWebhook{
				Name:           "broken-validator",
				WebhookType:    model.WebhookValidating,
				WebhookURL:     "http://127.0.0.1:1/unreachable",
				FailurePolicy:  model.FailurePolicyFail,
				TimeoutSeconds: 1,
			}
			src.webhooks = []model.AdmissionWebhook{webhook}
			chain = NewChain(src, nil)
		})

		It("denies the request rather than letting it through", func() {
			resource := map[string]any{"spec": map[string]any{"replicas": float64(1)}}
			_, err := chain.Run(context.Background(), "create", "widget", "v1", resource, nil)
			Expect(err).To(HaveOccurred())
		})

		It("eventually trips the breaker after repeated failures", func() {
			resource := map[string]any{"spec": map[string]any{"replicas": float64(1)}}
			var lastErr error
			for i := 0; i < 10; i++ {
				_, lastErr = chain.Run(context.Background(), "create", "widget", "v1", resource, nil)
			}
			Expect(lastErr).To(HaveOccurred())
			Expect(lastErr).To(MatchError(gobreaker.ErrOpenState))
		})
	})

	Context("when an Ignore-policy webhook's endpoint errors", func() {
		var server *httptest.Server

		BeforeEach(func() {
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			DeferCleanup(server.Close)

			src.webhooks = []model.AdmissionWebhook{{
				Name:           "best-effort-validator",
				WebhookType:    model.WebhookValidating,
				WebhookURL:     server.URL,
				FailurePolicy:  model.FailurePolicyIgnore,
				TimeoutSeconds: 1,
			}}
		})

		It("tolerates the failure and allows the request through", func() {
			chain := NewChain(src, nil)
			resource := map[string]any{"spec": map[string]any{"replicas": float64(1)}}
			spec, err := chain.Run(context.Background(), "create", "widget", "v1", resource, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(spec).To(Equal(resource["spec"]))
		})
	})
})
