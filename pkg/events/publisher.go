package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/parallax-research/parallax/pkg/store"
)

// Publisher appends typed events to the durable log and broadcasts them to
// live subscribers. Append-then-broadcast keeps the log the source of
// truth: an event a subscriber saw is always replayable.
type Publisher struct {
	store       store.Store
	broadcaster *Broadcaster
}

// NewPublisher creates a publisher over the given store and broadcaster.
func NewPublisher(st store.Store, b *Broadcaster) *Publisher {
	return &Publisher{store: st, broadcaster: b}
}

// Publish appends one typed event and fans it out. Returns the assigned
// event id.
func (p *Publisher) Publish(ctx context.Context, jobID string, payload Payload) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling %s event: %w", payload.EventType(), err)
	}
	id, err := p.store.AppendJobEvent(ctx, jobID, payload.EventType(), body)
	if err != nil {
		return 0, fmt.Errorf("appending %s event: %w", payload.EventType(), err)
	}
	p.broadcaster.Publish(store.JobEvent{
		ID:      id,
		JobID:   jobID,
		Type:    payload.EventType(),
		Payload: body,
	})
	return id, nil
}

// TryPublish publishes and logs instead of failing; progress events never
// abort the work that produced them.
func (p *Publisher) TryPublish(ctx context.Context, jobID string, payload Payload) {
	if _, err := p.Publish(ctx, jobID, payload); err != nil {
		slog.Warn("Event publish failed",
			"job_id", jobID, "event_type", payload.EventType(), "error", err)
	}
}

// Stream yields a job's events starting after sinceID: first the durable
// backlog, then live events, deduplicated by event id. The returned channel
// closes when ctx is done or the subscriber is dropped for lagging.
func (p *Publisher) Stream(ctx context.Context, jobID string, sinceID int64) (<-chan store.JobEvent, func(), error) {
	live, cancelSub := p.broadcaster.Subscribe(jobID)

	backlog, err := p.catchup(ctx, jobID, sinceID)
	if err != nil {
		cancelSub()
		return nil, nil, err
	}

	out := make(chan store.JobEvent, subscriberBuffer)
	go func() {
		defer close(out)
		// Dedup by delivered id, not a high-water mark: concurrent
		// emitters can broadcast out of append order, and a mark would
		// drop the late arrival for good.
		delivered := make(map[int64]struct{}, len(backlog))
		for _, e := range backlog {
			select {
			case out <- e:
				delivered[e.ID] = struct{}{}
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case e, ok := <-live:
				if !ok {
					return
				}
				if e.ID <= sinceID {
					continue
				}
				if _, seen := delivered[e.ID]; seen {
					continue
				}
				select {
				case out <- e:
					delivered[e.ID] = struct{}{}
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancelSub, nil
}

func (p *Publisher) catchup(ctx context.Context, jobID string, sinceID int64) ([]store.JobEvent, error) {
	var backlog []store.JobEvent
	cursor := sinceID
	for {
		page, err := p.store.GetJobEvents(ctx, jobID, cursor, 500)
		if err != nil {
			return nil, fmt.Errorf("replaying events for %s: %w", jobID, err)
		}
		backlog = append(backlog, page...)
		if len(page) < 500 {
			return backlog, nil
		}
		cursor = page[len(page)-1].ID
	}
}
