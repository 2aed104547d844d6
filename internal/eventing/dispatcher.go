package eventing

import (
	"context"
	"time"

	"gridpay-cloud/internal/observability/metrics"
)

// Dispatcher delivers pending outbox events to the in-process bus.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records undeliverable events.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Claimed int
	Sent    int
	Failed  int
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq}
}

// Dispatch pulls pending outbox messages and delivers them. Failed records are
// marked failed and copied to the DLQ; they stay visible for the sweep.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{}
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return result, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start))
		return result, err
	}
	result.Claimed = len(records)

	var firstErr error
	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			if markErr := d.outbox.MarkFailed(ctx, record.ID); markErr != nil && firstErr == nil {
				firstErr = markErr
			}
			if d.dlq != nil {
				_ = d.dlq.RecordFailure(ctx, env, err)
			}
			result.Failed++
			continue
		}

		ctxWithEnv := WithEnvelope(ctx, env)
		if err := d.bus.Publish(ctxWithEnv, payload); err != nil {
			if markErr := d.outbox.MarkFailed(ctx, record.ID); markErr != nil && firstErr == nil {
				firstErr = markErr
			}
			if d.dlq != nil {
				_ = d.dlq.RecordFailure(ctx, env, err)
			}
			result.Failed++
			continue
		}

		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Sent++
	}

	outcome := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		outcome = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(outcome, time.Since(start))
	return result, firstErr
}
