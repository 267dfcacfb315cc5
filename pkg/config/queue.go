package config

import "time"

// QueueConfig contains job queue and worker pool configuration.
// These values control how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines in this process.
	WorkerCount int

	// LeaseTimeout is how long a claimed job may go without a heartbeat
	// before it is swept back to queued.
	LeaseTimeout time.Duration

	// PollInterval is the base interval for checking queued jobs.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// JobTimeout is the maximum time a job can be processed.
	JobTimeout time.Duration

	// MaxQueueDepth bounds the number of queued jobs; submissions beyond
	// it fail with an Overloaded error instead of queuing silently.
	MaxQueueDepth int

	// IdempotencyTTL is how long a submission idempotency key maps back
	// to its original job.
	IdempotencyTTL time.Duration

	// GracefulShutdownTimeout is the max time to wait for active jobs
	// during shutdown.
	GracefulShutdownTimeout time.Duration
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:             2,
		LeaseTimeout:            90 * time.Second,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              15 * time.Minute,
		MaxQueueDepth:           100,
		IdempotencyTTL:          1 * time.Hour,
		GracefulShutdownTimeout: 2 * time.Minute,
	}
}

// HeartbeatInterval derives the heartbeat period from the lease timeout.
// Beats at lease/3 guarantee at least two beats inside any lease window.
func (c QueueConfig) HeartbeatInterval() time.Duration {
	return c.LeaseTimeout / 3
}

func (c *QueueConfig) loadEnv() error {
	var err error
	if c.WorkerCount, err = envInt("QUEUE_WORKER_COUNT", c.WorkerCount); err != nil {
		return err
	}
	if c.LeaseTimeout, err = envDuration("JOB_LEASE_TIMEOUT", c.LeaseTimeout); err != nil {
		return err
	}
	if c.PollInterval, err = envDuration("QUEUE_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.JobTimeout, err = envDuration("JOB_TIMEOUT", c.JobTimeout); err != nil {
		return err
	}
	if c.MaxQueueDepth, err = envInt("MAX_QUEUE_DEPTH", c.MaxQueueDepth); err != nil {
		return err
	}
	if c.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", c.IdempotencyTTL); err != nil {
		return err
	}
	if c.GracefulShutdownTimeout, err = envDuration("GRACEFUL_SHUTDOWN_TIMEOUT", c.GracefulShutdownTimeout); err != nil {
		return err
	}
	return nil
}
