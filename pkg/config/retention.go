package config

import "time"

// RetentionConfig controls the background retention sweep that removes
// terminal jobs and their event logs once they are old enough to be noise.
type RetentionConfig struct {
	// Enabled turns the sweep loop on.
	Enabled bool

	// JobRetention is how long a finished job and its events stay around.
	JobRetention time.Duration

	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:       true,
		JobRetention:  7 * 24 * time.Hour,
		SweepInterval: 1 * time.Hour,
	}
}

func (c *RetentionConfig) loadEnv() error {
	var err error
	c.Enabled = envBool("RETENTION_ENABLED", c.Enabled)
	if c.JobRetention, err = envDuration("JOB_RETENTION", c.JobRetention); err != nil {
		return err
	}
	if c.SweepInterval, err = envDuration("RETENTION_SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	return nil
}
