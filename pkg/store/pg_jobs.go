package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, type, params, status, progress_percent,
	progress_message, result, canceled, created_at, updated_at,
	started_at, finished_at, heartbeat_at`

// newJobID generates a store-owned job identifier: job_<millis>_<random>.
func newJobID() string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), random)
}

// CreateJob implements Store. The idempotency check is linearized with the
// insert: a partial unique index on idempotency_key plus ON CONFLICT DO
// NOTHING means two racing submissions with the same key resolve to one row.
func (s *PostgresStore) CreateJob(ctx context.Context, jobType string, params []byte, idempotencyKey string, idempotencyTTL time.Duration) (*Job, bool, error) {
	if len(params) == 0 {
		params = []byte("{}")
	}

	var (
		job     *Job
		created bool
	)
	err := s.run(ctx, "CreateJob", func() error {
		if idempotencyKey != "" {
			existing, err := s.jobByIdempotencyKey(ctx, idempotencyKey, idempotencyTTL)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if existing != nil {
				job, created = existing, false
				return nil
			}
		}

		id := newJobID()
		var key any
		if idempotencyKey != "" {
			key = idempotencyKey
		}
		// The conflict target must repeat the partial index predicate or
		// Postgres cannot infer the arbiter for jobs_idempotency_key_idx.
		row := s.pool.QueryRow(ctx,
			`INSERT INTO jobs (id, type, params, status, idempotency_key)
			 VALUES ($1, $2, $3, 'queued', $4)
			 ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
			 RETURNING `+jobColumns,
			id, jobType, params, key)
		j, err := scanJob(row)
		if errors.Is(err, ErrNotFound) {
			// Lost the idempotency race; the winner's row is authoritative.
			existing, lookupErr := s.jobByIdempotencyKey(ctx, idempotencyKey, idempotencyTTL)
			if lookupErr != nil {
				return lookupErr
			}
			job, created = existing, false
			return nil
		}
		if err != nil {
			return err
		}
		job, created = j, true
		return nil
	})
	return job, created, err
}

func (s *PostgresStore) jobByIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE idempotency_key = $1 AND created_at > now() - $2::interval`,
		key, ttl)
	return scanJob(row)
}

// GetJob implements Store.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := s.run(ctx, "GetJob", func() error {
		row := s.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		j, err := scanJob(row)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// GetJobStatus implements Store.
func (s *PostgresStore) GetJobStatus(ctx context.Context, id string) (JobStatus, error) {
	var status JobStatus
	err := s.run(ctx, "GetJobStatus", func() error {
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return err
	})
	return status, err
}

// SetJobStatus implements Store.
func (s *PostgresStore) SetJobStatus(ctx context.Context, id string, status JobStatus, result []byte, finished bool) error {
	return s.run(ctx, "SetJobStatus", func() error {
		var tag string
		var err error
		if finished {
			_, execErr := s.pool.Exec(ctx,
				`UPDATE jobs
				 SET status = $2, result = COALESCE($3, result),
				     finished_at = now(), updated_at = now()
				 WHERE id = $1`,
				id, status, nullableJSON(result))
			err = execErr
			tag = "finished"
		} else {
			_, execErr := s.pool.Exec(ctx,
				`UPDATE jobs
				 SET status = $2, result = COALESCE($3, result), updated_at = now()
				 WHERE id = $1`,
				id, status, nullableJSON(result))
			err = execErr
			tag = "running"
		}
		if err != nil {
			return fmt.Errorf("updating job %s to %s (%s): %w", id, status, tag, err)
		}
		return nil
	})
}

// SetJobProgress implements Store.
func (s *PostgresStore) SetJobProgress(ctx context.Context, id string, progress JobProgress) error {
	return s.run(ctx, "SetJobProgress", func() error {
		_, err := s.pool.Exec(ctx,
			`UPDATE jobs
			 SET progress_percent = $2, progress_message = $3, updated_at = now()
			 WHERE id = $1`,
			id, progress.Percent, progress.Message)
		return err
	})
}

// CancelJob implements Store. The canceled flag becomes observable before
// work stops; running workers notice it at the next heartbeat or stage
// boundary (best-effort cancellation).
func (s *PostgresStore) CancelJob(ctx context.Context, id string) error {
	return s.run(ctx, "CancelJob", func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE jobs
			 SET canceled = TRUE,
			     status = CASE WHEN status IN ('succeeded','failed') THEN status ELSE 'canceled' END,
			     finished_at = CASE WHEN finished_at IS NULL THEN now() ELSE finished_at END,
			     updated_at = now()
			 WHERE id = $1`,
			id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ClaimNextJob implements Store. This is the queue's single serialization
// point: first a single-statement stale-lease sweep, then a single-statement
// claim guarded by FOR UPDATE SKIP LOCKED.
func (s *PostgresStore) ClaimNextJob(ctx context.Context, lease time.Duration) (*Job, error) {
	var job *Job
	err := s.run(ctx, "ClaimNextJob", func() error {
		job = nil
		if _, err := s.pool.Exec(ctx,
			`UPDATE jobs
			 SET status = 'queued', updated_at = now()
			 WHERE status = 'running' AND NOT canceled
			   AND heartbeat_at < now() - $1::interval`,
			lease); err != nil {
			return fmt.Errorf("sweeping stale leases: %w", err)
		}

		row := s.pool.QueryRow(ctx,
			`UPDATE jobs
			 SET status = 'running', started_at = now(),
			     heartbeat_at = now(), updated_at = now()
			 WHERE id = (
			     SELECT id FROM jobs
			     WHERE status = 'queued' AND NOT canceled
			     ORDER BY created_at
			     LIMIT 1
			     FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+jobColumns)
		j, err := scanJob(row)
		if errors.Is(err, ErrNotFound) {
			return nil // no job available
		}
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// HeartbeatJob implements Store.
func (s *PostgresStore) HeartbeatJob(ctx context.Context, id string) error {
	return s.run(ctx, "HeartbeatJob", func() error {
		_, err := s.pool.Exec(ctx,
			`UPDATE jobs SET heartbeat_at = now() WHERE id = $1 AND status = 'running'`,
			id)
		return err
	})
}

// CountJobs implements Store.
func (s *PostgresStore) CountJobs(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := s.run(ctx, "CountJobs", func() error {
		return s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM jobs WHERE status = $1`, status).Scan(&count)
	})
	return count, err
}

// AppendJobEvent implements Store. Events are append-only; the returned id
// is the monotonic cursor clients page with.
func (s *PostgresStore) AppendJobEvent(ctx context.Context, jobID, eventType string, payload []byte) (int64, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var id int64
	err := s.run(ctx, "AppendJobEvent", func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO job_events (job_id, event_type, payload)
			 VALUES ($1, $2, $3) RETURNING id`,
			jobID, eventType, payload).Scan(&id)
	})
	return id, err
}

// PruneJobs implements Store. Event rows go with their job via the
// ON DELETE CASCADE on job_events.job_id.
func (s *PostgresStore) PruneJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	err := s.run(ctx, "PruneJobs", func() error {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM jobs
			 WHERE status IN ('succeeded', 'failed', 'canceled')
			   AND finished_at < now() - $1::interval`,
			olderThan)
		if err != nil {
			return fmt.Errorf("pruning terminal jobs: %w", err)
		}
		count = int(tag.RowsAffected())
		return nil
	})
	return count, err
}

// GetJobEvents implements Store.
func (s *PostgresStore) GetJobEvents(ctx context.Context, jobID string, sinceID int64, limit int) ([]JobEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	var events []JobEvent
	err := s.run(ctx, "GetJobEvents", func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, job_id, event_type, payload, created_at
			 FROM job_events
			 WHERE job_id = $1 AND id > $2
			 ORDER BY id
			 LIMIT $3`,
			jobID, sinceID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var e JobEvent
			if err := rows.Scan(&e.ID, &e.JobID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
				return err
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	return events, err
}

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		result []byte
	)
	err := row.Scan(&j.ID, &j.Type, &j.Params, &j.Status,
		&j.Progress.Percent, &j.Progress.Message, &result, &j.Canceled,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt, &j.HeartbeatAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

// nullableJSON maps an empty payload to SQL NULL so COALESCE keeps the
// previous value.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
