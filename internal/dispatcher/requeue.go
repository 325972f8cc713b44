package dispatcher

import (
	"context"
	"time"

	"github.com/wilsonge/no8s-operator/internal/logging"
)

// requeueInterval is fixed at 30s per spec.md §4.5.2; unlike the poll
// interval, it's not configurable, so backoff jitter can't be skewed
// by an operator tuning the wrong knob.
const requeueInterval = 30 * time.Second

// requeueLoop recomputes next_reconcile_time for every failed resource
// whose previous backoff has elapsed, isolated from the poll loop so
// jitter doesn't accumulate from concurrent reconcile completions
// (spec.md §4.6).
func (d *Dispatcher) requeueLoop(ctx context.Context) {
	ticker := time.NewTicker(requeueInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		d.requeueOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) requeueOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("requeue loop panic", logging.NewFields().Component("requeue_loop").Slice()...)
		}
	}()

	due, err := d.store.GetResourcesDueForRequeue(ctx, time.Now(), 100)
	if err != nil {
		d.log.Error("error listing resources due for requeue", logging.NewFields().Component("requeue_loop").Error(err).Slice()...)
		time.Sleep(10 * time.Second)
		return
	}

	for _, r := range due {
		delay := ComputeBackoff(r.RetryCount, d.cfg.BackoffBaseDelay, d.cfg.BackoffMaxDelay, d.cfg.BackoffJitterFactor, d.rnd)
		next := time.Now().Add(delay)
		if err := d.store.ScheduleRequeue(ctx, r.ID, next); err != nil {
			d.log.Error("error scheduling requeue", logging.NewFields().Component("requeue_loop").Resource(r.ResourceTypeName, r.Name).Error(err).Slice()...)
			continue
		}
		if d.metrics != nil {
			d.metrics.RequeueTotal.Inc()
		}
	}
}
