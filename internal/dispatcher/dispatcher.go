// Package dispatcher is the reconciliation engine's control path: a
// poll loop that finds resources needing reconciliation, a bounded-
// concurrency pool of reconcile tasks that drive each one through its
// action executor's prepare/plan/apply/destroy phases, a requeue loop
// that recomputes backoff for failed resources, and a host that runs
// every registered reconciler plugin's own loop alongside. Grounded on
// the original controller's poll-and-dispatch design, translated from
// asyncio tasks to goroutines supervised by an errgroup.
package dispatcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
	"github.com/wilsonge/no8s-operator/internal/eventbus"
	"github.com/wilsonge/no8s-operator/internal/logging"
	"github.com/wilsonge/no8s-operator/internal/metrics"
	"github.com/wilsonge/no8s-operator/internal/plugin"
	"github.com/wilsonge/no8s-operator/internal/registry"
	"github.com/wilsonge/no8s-operator/internal/store"
)

var tracer = otel.Tracer("github.com/wilsonge/no8s-operator/internal/dispatcher")

// Config carries the tunables named in spec.md §6: poll interval,
// concurrency bound, and the requeue backoff curve.
type Config struct {
	ReconcileInterval      time.Duration
	MaxConcurrentReconciles int64
	BackoffBaseDelay       time.Duration
	BackoffMaxDelay        time.Duration
	BackoffJitterFactor    float64
	PluginConfigs          map[string]map[string]any
}

// DefaultConfig mirrors the defaults in spec.md §6.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:       60 * time.Second,
		MaxConcurrentReconciles: 5,
		BackoffBaseDelay:        60 * time.Second,
		BackoffMaxDelay:         3600 * time.Second,
		BackoffJitterFactor:     0.1,
		PluginConfigs:           map[string]map[string]any{},
	}
}

// Dispatcher owns the poll loop, requeue loop, and reconciler-plugin
// host. The zero value is not usable; construct with New.
type Dispatcher struct {
	store    store.Store
	registry *registry.Registry
	bus      *eventbus.Bus
	log      logging.Logger
	metrics  *metrics.Collectors
	cfg      Config

	sem *semaphore.Weighted
	rnd *rand.Rand

	pluginMu      sync.Mutex
	actionPlugins map[string]plugin.ActionExecutor
}

// New constructs a Dispatcher. bus and metricsCollectors may be nil.
func New(s store.Store, reg *registry.Registry, bus *eventbus.Bus, log logging.Logger, m *metrics.Collectors, cfg Config) *Dispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Dispatcher{
		store:         s,
		registry:      reg,
		bus:           bus,
		log:           log.WithName("dispatcher"),
		metrics:       m,
		cfg:           cfg,
		sem:           semaphore.NewWeighted(cfg.MaxConcurrentReconciles),
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		actionPlugins: map[string]plugin.ActionExecutor{},
	}
}

// Run starts the poll loop, requeue loop, and one goroutine per
// registered reconciler plugin, and blocks until ctx is cancelled and
// every supervised goroutine has returned. A panic or error in one
// loop is recovered and logged; it never takes down the others (Design
// Note 9: "a crashed reconciler must never take down the controller").
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.pollLoop(ctx)
		return nil
	})

	g.Go(func() error {
		d.requeueLoop(ctx)
		return nil
	})

	rctx := &reconcilerContext{store: d.store, dispatcher: d, done: ctx.Done()}
	for _, rp := range d.registry.ListReconcilerPlugins() {
		rp := rp
		g.Go(func() error {
			d.runReconcilerPlugin(ctx, rp, rctx)
			return nil
		})
	}

	return g.Wait()
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		d.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("poll loop panic", logging.NewFields().Component("poll_loop").Slice()...)
		}
	}()

	limit := int(d.cfg.MaxConcurrentReconciles * 2)
	resources, err := d.store.GetResourcesNeedingReconciliation(ctx, limit)
	if err != nil {
		d.log.Error("error listing resources needing reconciliation", logging.NewFields().Component("poll_loop").Error(err).Slice()...)
		time.Sleep(10 * time.Second)
		return
	}
	if len(resources) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, r := range resources {
		r := r
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			d.reconcileResource(ctx, r)
		}()
	}
	wg.Wait()
}

// runReconcilerPlugin runs one reconciler plugin's own loop, isolating
// a crash to this goroutine (spec.md §4.7: "a crashed reconciler must
// never take down the controller").
func (d *Dispatcher) runReconcilerPlugin(ctx context.Context, rp plugin.ReconcilerPlugin, rctx plugin.ReconcilerContext) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("reconciler plugin crashed",
				logging.NewFields().Component("reconciler_host").Operation(rp.Name()).Slice()...)
		}
	}()

	if err := rp.Start(ctx, rctx); err != nil {
		d.log.Error("reconciler plugin exited with error",
			logging.NewFields().Component("reconciler_host").Operation(rp.Name()).Error(err).Slice()...)
	}
}

// Stop runs every registered reconciler plugin's Stop hook. Call after
// the context passed to Run has been cancelled and Run has returned, so
// in-flight reconcile tasks have already drained.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var errs []error
	for _, rp := range d.registry.ListReconcilerPlugins() {
		if err := rp.Stop(ctx); err != nil {
			d.log.Error("error stopping reconciler plugin",
				logging.NewFields().Component("reconciler_host").Operation(rp.Name()).Error(err).Slice()...)
			errs = append(errs, err)
		}
	}
	return apperrors.Chain(errs...)
}

// TriggerReconciliation manually schedules a resource for the next
// poll cycle.
func (d *Dispatcher) TriggerReconciliation(ctx context.Context, resourceID int64) error {
	return d.store.MarkResourceForReconciliation(ctx, resourceID)
}

// getActionExecutor returns the executor instance for name, merging the
// dispatcher-wide plugin config with the resource-specific override
// (resource-specific wins) and (re-)initializing it with that merge on
// every call, matching spec.md §4.5.3 step 2. Only the instance itself
// is cached by name — the merged config varies per resource, so it must
// never be skipped just because another resource reconciled with this
// plugin first.
func (d *Dispatcher) getActionExecutor(ctx context.Context, name string, resourceConfig map[string]any) (plugin.ActionExecutor, error) {
	d.pluginMu.Lock()
	defer d.pluginMu.Unlock()

	p, ok := d.actionPlugins[name]
	if !ok {
		var err error
		p, err = d.registry.GetActionExecutor(name)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeReconcile, "looking up action executor").WithDetails(name)
		}
		d.actionPlugins[name] = p
	}

	merged := map[string]any{}
	for k, v := range d.cfg.PluginConfigs[name] {
		merged[k] = v
	}
	for k, v := range resourceConfig {
		merged[k] = v
	}
	if err := p.Initialize(ctx, merged); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeReconcile, "initializing action executor").WithDetails(name)
	}

	return p, nil
}
