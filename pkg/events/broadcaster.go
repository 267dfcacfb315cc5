package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parallax-research/parallax/pkg/store"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// whose buffer is full when an event arrives is dropped; the durable event
// log covers its catch-up.
const subscriberBuffer = 256

type subscriber struct {
	id string
	ch chan store.JobEvent
}

// Broadcaster fans job events out to in-process subscribers. Delivery is
// best-effort and non-blocking; durability lives in the store's event log.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[string]*subscriber // jobID -> subID -> subscriber
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[string]*subscriber)}
}

// Subscribe registers a subscriber for one job's events. The returned
// cancel function unregisters and closes the channel; it is safe to call
// after the broadcaster already dropped the subscriber.
func (b *Broadcaster) Subscribe(jobID string) (<-chan store.JobEvent, func()) {
	sub := &subscriber{
		id: uuid.NewString(),
		ch: make(chan store.JobEvent, subscriberBuffer),
	}

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[string]*subscriber)
	}
	b.subs[jobID][sub.id] = sub
	b.mu.Unlock()

	cancel := func() { b.drop(jobID, sub.id) }
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its job. A subscriber
// with a full buffer is disconnected rather than blocking the publisher.
func (b *Broadcaster) Publish(event store.JobEvent) {
	b.mu.Lock()
	var lagging []*subscriber
	for _, sub := range b.subs[event.JobID] {
		select {
		case sub.ch <- event:
		default:
			lagging = append(lagging, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range lagging {
		slog.Warn("Dropping lagging event subscriber",
			"job_id", event.JobID, "subscriber_id", sub.id)
		b.drop(event.JobID, sub.id)
	}
}

// SubscriberCount returns the number of subscribers for a job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Broadcaster) drop(jobID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[jobID]
	sub, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subs, jobID)
	}
	close(sub.ch)
}
