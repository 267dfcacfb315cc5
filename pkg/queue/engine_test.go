package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/events"
	"github.com/parallax-research/parallax/pkg/store"
)

func testQueueConfig() config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.WorkerCount = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = 2 * time.Millisecond
	cfg.LeaseTimeout = 60 * time.Millisecond // heartbeat/cancel poll at 20ms
	cfg.JobTimeout = 2 * time.Second
	cfg.GracefulShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestEngine(cfg config.QueueConfig) (*Engine, store.Store) {
	st := store.NewMemory()
	pub := events.NewPublisher(st, events.NewBroadcaster())
	return NewEngine(cfg, st, pub), st
}

func waitForStatus(t *testing.T, st store.Store, jobID string, want store.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := st.GetJobStatus(context.Background(), jobID)
		return err == nil && status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
}

func TestEngineProcessesJob(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(testQueueConfig())

	e.Register("echo", func(_ context.Context, job *store.Job) (json.RawMessage, error) {
		return job.Params, nil
	})
	e.Start(ctx)
	defer e.Stop()

	job, created, err := e.Submit(ctx, "echo", map[string]string{"query": "hi"}, "")
	require.NoError(t, err)
	require.True(t, created)

	waitForStatus(t, st, job.ID, store.JobStatusSucceeded)
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"hi"}`, string(got.Result))

	// durable status trail: queued, running, succeeded
	evs, err := st.GetJobEvents(ctx, job.ID, 0, 100)
	require.NoError(t, err)
	var statuses []string
	for _, e := range evs {
		if e.Type == events.TypeJobStatus {
			var p events.JobStatus
			require.NoError(t, json.Unmarshal(e.Payload, &p))
			statuses = append(statuses, string(p.Status))
		}
	}
	assert.Equal(t, []string{"queued", "running", "succeeded"}, statuses)
}

func TestEngineFailedJob(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(testQueueConfig())

	e.Register("boom", func(context.Context, *store.Job) (json.RawMessage, error) {
		return nil, errors.New("provider exploded")
	})
	e.Start(ctx)
	defer e.Stop()

	job, _, err := e.Submit(ctx, "boom", nil, "")
	require.NoError(t, err)

	waitForStatus(t, st, job.ID, store.JobStatusFailed)
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"provider exploded"}`, string(got.Result))
}

func TestEngineUnknownJobType(t *testing.T) {
	e, _ := newTestEngine(testQueueConfig())
	_, _, err := e.Submit(context.Background(), "mystery", nil, "")
	assert.ErrorContains(t, err, "unknown job type")
}

func TestEngineIdempotency(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(testQueueConfig())
	e.Register("echo", func(_ context.Context, job *store.Job) (json.RawMessage, error) {
		return job.Params, nil
	})

	first, created, err := e.Submit(ctx, "echo", nil, "client-key")
	require.NoError(t, err)
	require.True(t, created)

	dup, created, err := e.Submit(ctx, "echo", nil, "client-key")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)
}

func TestEngineBackpressure(t *testing.T) {
	ctx := context.Background()
	cfg := testQueueConfig()
	cfg.MaxQueueDepth = 2
	e, _ := newTestEngine(cfg)
	e.Register("echo", func(_ context.Context, job *store.Job) (json.RawMessage, error) {
		return job.Params, nil
	})

	// workers not started: submissions stay queued
	for i := 0; i < 2; i++ {
		_, _, err := e.Submit(ctx, "echo", nil, "")
		require.NoError(t, err)
	}
	_, _, err := e.Submit(ctx, "echo", nil, "")
	assert.ErrorIs(t, err, store.ErrOverloaded)
}

func TestEngineCancelRunningJob(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(testQueueConfig())

	started := make(chan struct{})
	e.Register("slow", func(jobCtx context.Context, _ *store.Job) (json.RawMessage, error) {
		close(started)
		<-jobCtx.Done()
		return nil, jobCtx.Err()
	})
	e.Start(ctx)
	defer e.Stop()

	job, _, err := e.Submit(ctx, "slow", nil, "")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	require.NoError(t, e.Cancel(ctx, job.ID))

	waitForStatus(t, st, job.ID, store.JobStatusCanceled)
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Canceled)
}
