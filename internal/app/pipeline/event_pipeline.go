// Package pipeline moves hub events from the dispatcher to the configured sinks.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/ports"
)

const defaultIdleSleep = 5 * time.Millisecond

// Emit queues ev without blocking the caller. A full queue drops the event.
func Emit(q ports.Queue[domain.HubEvent], ev domain.HubEvent, obs ports.Observability) bool {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if q.Enqueue(ev) {
		return true
	}
	// Client outbox drops have their own counter; this one is events only.
	obs.IncCounter(ports.MetricEventsDropped, 1)
	return false
}

// RunEventPipeline drains q in batches and hands each batch to every sink until
// ctx is cancelled. A failing sink is logged and skipped; events are not retried.
func RunEventPipeline(ctx context.Context, q ports.Queue[domain.HubEvent], sinks []ports.EventSink, pol ports.Policy, obs ports.Observability) {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}
	batchSize := pol.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	for {
		batch := q.DequeueBatch(batchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}
		deliver(batch, sinks, obs)
	}
}

func deliver(batch []domain.HubEvent, sinks []ports.EventSink, obs ports.Observability) {
	for _, sink := range sinks {
		start := time.Now()
		if err := sink.WriteBatch(batch); err != nil {
			obs.LogError("event_sink_write_failed", fmt.Errorf("%s: %w", sink.Name(), err),
				ports.Field{Key: "sink", Value: sink.Name()},
				ports.Field{Key: "events", Value: len(batch)})
			continue
		}
		obs.ObserveLatency(ports.MetricEventSinkLatency, time.Since(start).Seconds())
	}
}
