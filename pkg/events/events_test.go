package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/store"
)

func TestBroadcaster(t *testing.T) {
	t.Run("delivers to all subscribers", func(t *testing.T) {
		b := NewBroadcaster()
		ch1, cancel1 := b.Subscribe("job-1")
		defer cancel1()
		ch2, cancel2 := b.Subscribe("job-1")
		defer cancel2()
		other, cancelOther := b.Subscribe("job-2")
		defer cancelOther()

		b.Publish(store.JobEvent{ID: 1, JobID: "job-1", Type: TypeSubmitted})

		assert.Equal(t, int64(1), (<-ch1).ID)
		assert.Equal(t, int64(1), (<-ch2).ID)
		select {
		case <-other:
			t.Fatal("event leaked across jobs")
		default:
		}
	})

	t.Run("cancel closes the channel", func(t *testing.T) {
		b := NewBroadcaster()
		ch, cancel := b.Subscribe("job-1")
		cancel()
		_, ok := <-ch
		assert.False(t, ok)
		assert.Zero(t, b.SubscriberCount("job-1"))
	})

	t.Run("lagging subscriber is dropped", func(t *testing.T) {
		b := NewBroadcaster()
		ch, cancel := b.Subscribe("job-1")
		defer cancel()

		for i := 0; i < subscriberBuffer+1; i++ {
			b.Publish(store.JobEvent{ID: int64(i + 1), JobID: "job-1", Type: TypeSynthesisToken})
		}
		assert.Zero(t, b.SubscriberCount("job-1"))

		// the buffered events remain readable, then the channel closes
		count := 0
		for range ch {
			count++
		}
		assert.Equal(t, subscriberBuffer, count)
	})
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	b := NewBroadcaster()
	p := NewPublisher(st, b)

	job, _, err := st.CreateJob(ctx, "research", nil, "", time.Hour)
	require.NoError(t, err)

	t.Run("append then broadcast", func(t *testing.T) {
		ch, cancel := b.Subscribe(job.ID)
		defer cancel()

		id, err := p.Publish(ctx, job.ID, Submitted{Query: "q"})
		require.NoError(t, err)
		require.Positive(t, id)

		live := <-ch
		assert.Equal(t, id, live.ID)
		assert.Equal(t, TypeSubmitted, live.Type)

		durable, err := st.GetJobEvents(ctx, job.ID, id-1, 10)
		require.NoError(t, err)
		require.Len(t, durable, 1)
		assert.JSONEq(t, `{"query":"q"}`, string(durable[0].Payload))
	})

	t.Run("typed payloads round trip", func(t *testing.T) {
		id, err := p.Publish(ctx, job.ID, JobStatus{
			Status: store.JobStatusRunning, Percent: 30, Message: "researching",
		})
		require.NoError(t, err)

		got, err := st.GetJobEvents(ctx, job.ID, id-1, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)

		var payload JobStatus
		require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
		assert.Equal(t, store.JobStatusRunning, payload.Status)
		assert.Equal(t, 30, payload.Percent)
	})
}

func TestPublisherStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	b := NewBroadcaster()
	p := NewPublisher(st, b)

	job, _, err := st.CreateJob(ctx, "research", nil, "", time.Hour)
	require.NoError(t, err)

	// backlog written before the stream attaches
	firstID, err := p.Publish(ctx, job.ID, Submitted{Query: "q"})
	require.NoError(t, err)
	_, err = p.Publish(ctx, job.ID, AgentStarted{AgentIndex: 0, SubQuery: "sq"})
	require.NoError(t, err)

	stream, stop, err := p.Stream(ctx, job.ID, 0)
	require.NoError(t, err)
	defer stop()

	e1 := <-stream
	assert.Equal(t, firstID, e1.ID)
	e2 := <-stream
	assert.Equal(t, TypeAgentStarted, e2.Type)

	// live event after catch-up
	_, err = p.Publish(ctx, job.ID, ReportSaved{ReportID: 9})
	require.NoError(t, err)
	select {
	case e3 := <-stream:
		assert.Equal(t, TypeReportSaved, e3.Type)
		assert.Greater(t, e3.ID, e2.ID)
	case <-time.After(time.Second):
		t.Fatal("live event not delivered")
	}

	t.Run("out-of-order live events are not dropped", func(t *testing.T) {
		// concurrent emitters can broadcast in a different order than the
		// log assigned ids; the late lower id must still be delivered
		reordered, stopReordered, err := p.Stream(ctx, "job-reorder", 0)
		require.NoError(t, err)
		defer stopReordered()

		b.Publish(store.JobEvent{ID: 12, JobID: "job-reorder", Type: TypeAgentCompleted})
		b.Publish(store.JobEvent{ID: 11, JobID: "job-reorder", Type: TypeAgentCompleted})

		var ids []int64
		for len(ids) < 2 {
			select {
			case e := <-reordered:
				ids = append(ids, e.ID)
			case <-time.After(time.Second):
				t.Fatalf("only %d of 2 events delivered: %v", len(ids), ids)
			}
		}
		assert.ElementsMatch(t, []int64{11, 12}, ids)
	})

	t.Run("since cursor skips delivered events", func(t *testing.T) {
		resumed, stopResumed, err := p.Stream(ctx, job.ID, e2.ID)
		require.NoError(t, err)
		defer stopResumed()

		e := <-resumed
		assert.Equal(t, TypeReportSaved, e.Type)
	})
}
