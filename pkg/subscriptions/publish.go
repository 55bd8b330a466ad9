package subscriptions

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/gqlsubs/pkg/metrics"
)

// PublishResult summarizes one fan-out.
type PublishResult struct {
	// Matched is the number of registrations found for the name.
	Matched int `json:"matched"`
	// Filtered is the number skipped because their filter returned false.
	Filtered int `json:"filtered"`
	// Delivered is the number that received a data message.
	Delivered int `json:"delivered"`
	// Failed is the number whose filter, execution or send failed.
	Failed int `json:"failed"`
	// Skipped is the number removed by stop or disconnect while the
	// fan-out was running.
	Skipped int `json:"skipped"`
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFiltered
	outcomeFailed
	outcomeSkipped
)

// Publish executes every live subscription named name against payload and
// sends each result to the subscription's connection. Publishing to a name
// nobody subscribed to does nothing. A failure for one registration is
// reported to that client only and never stops the fan-out.
func (r *Registry) Publish(ctx context.Context, name string, payload interface{}) PublishResult {
	r.mu.RLock()
	set := r.byName[name]
	targets := make([]*Registration, 0, len(set))
	for _, reg := range set {
		targets = append(targets, reg)
	}
	r.mu.RUnlock()

	r.metrics.Published(r.metricName(name))

	result := PublishResult{Matched: len(targets)}
	if len(targets) == 0 {
		return result
	}

	filter := r.filters[name]
	outcomes := make([]outcome, len(targets))

	if r.publishConcurrency > 1 && len(targets) > 1 {
		var g errgroup.Group
		g.SetLimit(r.publishConcurrency)
		for i, reg := range targets {
			i, reg := i, reg
			g.Go(func() error {
				outcomes[i] = r.deliver(ctx, filter, reg, payload)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, reg := range targets {
			outcomes[i] = r.deliver(ctx, filter, reg, payload)
		}
	}

	label := r.metricName(name)
	for _, o := range outcomes {
		switch o {
		case outcomeDelivered:
			result.Delivered++
			r.metrics.Delivery(label, metrics.OutcomeDelivered)
		case outcomeFiltered:
			result.Filtered++
			r.metrics.Delivery(label, metrics.OutcomeFiltered)
		case outcomeFailed:
			result.Failed++
			r.metrics.Delivery(label, metrics.OutcomeError)
		case outcomeSkipped:
			result.Skipped++
		}
	}

	r.logger.Debug("published",
		"subscription", name,
		"matched", result.Matched,
		"delivered", result.Delivered,
		"filtered", result.Filtered,
		"failed", result.Failed)
	return result
}

// deliver runs the filter and the stored query for one registration and
// sends the result.
func (r *Registry) deliver(ctx context.Context, filter Filter, reg *Registration, payload interface{}) (out outcome) {
	cs, live := r.isLive(reg)
	if !live {
		return outcomeSkipped
	}
	if err := ctx.Err(); err != nil {
		return outcomeFailed
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("delivery panicked", "conn", reg.Connection.ID(), "id", reg.ID, "panic", rec)
			_ = r.send(ctx, cs, &OperationError{ID: reg.ID, Message: ErrInternal.Error()})
			out = outcomeFailed
		}
	}()

	execCtx, cancel := r.executionContext(ctx, reg.Connection, reg.values, reg.ID)
	defer cancel()

	if filter != nil {
		keep, err := r.callFilter(execCtx, filter, reg, payload)
		if err != nil {
			_ = r.send(ctx, cs, &OperationError{ID: reg.ID, Message: err.Error()})
			return outcomeFailed
		}
		if !keep {
			return outcomeFiltered
		}
	}

	start := time.Now()
	resp := r.executor.ExecuteDocument(execCtx, reg.Document, reg.OperationName, reg.Variables, payload)
	r.metrics.ObserveExecution("subscription", time.Since(start))

	// A stop processed while executing wins over this result.
	if _, live := r.isLive(reg); !live {
		return outcomeSkipped
	}

	if err := r.send(ctx, cs, &Data{ID: reg.ID, Payload: resp}); err != nil {
		_ = r.send(ctx, cs, &OperationError{ID: reg.ID, Message: err.Error()})
		return outcomeFailed
	}
	return outcomeDelivered
}

func (r *Registry) callFilter(ctx context.Context, filter Filter, reg *Registration, payload interface{}) (keep bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("filter panicked", "subscription", reg.Name, "conn", reg.Connection.ID(), "panic", rec)
			keep, err = false, r.panicError("filter", rec)
		}
	}()
	return filter(ctx, payload, reg.Variables), nil
}

// publishMessage routes an in-process publish message.
func (r *Registry) publishMessage(ctx context.Context, pub *Publish) {
	var payload interface{}
	if len(pub.Payload) > 0 {
		if err := json.Unmarshal(pub.Payload, &payload); err != nil {
			r.logger.Warn("dropping publish with invalid payload", "subscription", pub.Subscription, "error", err)
			return
		}
	}
	r.Publish(ctx, pub.Subscription, payload)
}

// metricName bounds label cardinality to the names the schema declares.
func (r *Registry) metricName(name string) string {
	if r.metrics == nil {
		return name
	}
	if r.executor.Schema().GetSubscriptionField(name) == nil {
		return "unknown"
	}
	return name
}
