package engine

import (
	"context"
	"time"

	intrat "github.com/aegislights/controller/engine/internal/ratelimit"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/simulator"
)

// Simulator endpoint classes, used as the circuit breaker's per-domain key in
// place of the crawl-target hostnames this breaker was originally sharded by.
const (
	domainFetchSnapshot = "fetch_snapshot"
	domainApplyPlan     = "apply_plan"
	domainHealth        = "health"
)

// breakerClient wraps simulator.Client with the domain-sharded adaptive
// circuit breaker (engine/internal/ratelimit), so a misbehaving simulator
// trips its own domain's breaker instead of stalling every subsequent call
// (spec §5/§7: the controller keeps running, signal-less, against a dead
// simulator rather than locking up).
type breakerClient struct {
	client  *simulator.Client
	breaker *intrat.AdaptiveRateLimiter
}

func newBreakerClient(client *simulator.Client, breaker *intrat.AdaptiveRateLimiter) *breakerClient {
	return &breakerClient{client: client, breaker: breaker}
}

func (b *breakerClient) FetchSnapshot(ctx context.Context) (models.NetworkSnapshot, error) {
	if b.breaker == nil {
		return b.client.FetchSnapshot(ctx)
	}
	started := time.Now()
	permit, err := b.breaker.Acquire(ctx, domainFetchSnapshot)
	if err != nil {
		return models.NetworkSnapshot{}, err
	}
	defer permit.Release()
	snap, err := b.client.FetchSnapshot(ctx)
	b.breaker.Feedback(domainFetchSnapshot, intrat.Feedback{Err: err, Latency: time.Since(started)})
	return snap, err
}

func (b *breakerClient) ApplyPlan(ctx context.Context, intersection string, phaseID int) (bool, error) {
	if b.breaker == nil {
		return b.client.ApplyPlan(ctx, intersection, phaseID)
	}
	started := time.Now()
	permit, err := b.breaker.Acquire(ctx, domainApplyPlan)
	if err != nil {
		return false, err
	}
	defer permit.Release()
	ok, err := b.client.ApplyPlan(ctx, intersection, phaseID)
	b.breaker.Feedback(domainApplyPlan, intrat.Feedback{Err: err, Latency: time.Since(started)})
	return ok, err
}

func (b *breakerClient) Health(ctx context.Context) error {
	if b.breaker == nil {
		return b.client.Health(ctx)
	}
	started := time.Now()
	permit, err := b.breaker.Acquire(ctx, domainHealth)
	if err != nil {
		return err
	}
	defer permit.Release()
	err = b.client.Health(ctx)
	b.breaker.Feedback(domainHealth, intrat.Feedback{Err: err, Latency: time.Since(started)})
	return err
}
