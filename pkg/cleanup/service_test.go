package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-research/parallax/pkg/config"
	"github.com/parallax-research/parallax/pkg/store"
)

func finishedJob(t *testing.T, st store.Store) *store.Job {
	t.Helper()
	ctx := context.Background()
	job, _, err := st.CreateJob(ctx, "research", []byte(`{}`), "", 0)
	require.NoError(t, err)
	require.NoError(t, st.SetJobStatus(ctx, job.ID, store.JobStatusSucceeded, []byte(`{}`), true))
	return job
}

func TestServiceSweepsTerminalJobs(t *testing.T) {
	st := store.NewMemory()
	old := finishedJob(t, st)

	svc := NewService(config.RetentionConfig{
		Enabled:       true,
		JobRetention:  0, // everything already finished is past retention
		SweepInterval: 10 * time.Millisecond,
	}, st)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, err := st.GetJob(context.Background(), old.ID)
		return errors.Is(err, store.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestServiceKeepsActiveJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	active, _, err := st.CreateJob(ctx, "research", []byte(`{}`), "", 0)
	require.NoError(t, err)
	finishedJob(t, st)

	svc := NewService(config.RetentionConfig{
		Enabled:       true,
		JobRetention:  0,
		SweepInterval: 10 * time.Millisecond,
	}, st)
	svc.Start(ctx)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		n, err := st.CountJobs(ctx, store.JobStatusSucceeded)
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)

	got, err := st.GetJob(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusQueued, got.Status)
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(config.RetentionConfig{Enabled: false}, store.NewMemory())
	svc.Start(context.Background())
	svc.Stop() // no loop was started; must not block
}
