package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// IncrementUsage implements Store.
func (s *PostgresStore) IncrementUsage(ctx context.Context, entityType, entityID string) error {
	return s.run(ctx, "IncrementUsage", func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO usage_counters (entity_type, entity_id, uses, last_used_at)
			 VALUES ($1, $2, 1, now())
			 ON CONFLICT (entity_type, entity_id)
			 DO UPDATE SET uses = usage_counters.uses + 1, last_used_at = now()`,
			entityType, entityID)
		return err
	})
}

// GetUsageCounts implements Store. Entities never used are absent.
func (s *PostgresStore) GetUsageCounts(ctx context.Context, entityType string, ids []string) (map[string]int, error) {
	if len(ids) == 0 {
		return map[string]int{}, nil
	}
	counts := make(map[string]int, len(ids))
	err := s.run(ctx, "GetUsageCounts", func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT entity_id, uses FROM usage_counters
			 WHERE entity_type = $1 AND entity_id = ANY($2)`,
			entityType, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(counts)
		for rows.Next() {
			var id string
			var uses int
			if err := rows.Scan(&id, &uses); err != nil {
				return err
			}
			counts[id] = uses
		}
		return rows.Err()
	})
	return counts, err
}

// RecordToolObservation implements Store.
func (s *PostgresStore) RecordToolObservation(ctx context.Context, obs ToolObservation) error {
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	return s.run(ctx, "RecordToolObservation", func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tool_observations
			   (tool_name, input_hash, output_hash, success, latency_ms,
			    error_category, error_code, request_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			obs.ToolName, obs.InputHash, nullableString(obs.OutputHash),
			obs.Success, obs.LatencyMS, nullableString(obs.ErrorCategory),
			nullableString(obs.ErrorCode), nullableString(obs.RequestID),
			obs.CreatedAt)
		return err
	})
}

// GetConvergenceMetrics implements Store.
func (s *PostgresStore) GetConvergenceMetrics(ctx context.Context, window time.Duration) (*ConvergenceMetrics, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	metrics := &ConvergenceMetrics{WindowHours: int(window.Hours())}
	err := s.run(ctx, "GetConvergenceMetrics", func() error {
		metrics.PerTool = metrics.PerTool[:0]
		metrics.TopErrors = metrics.TopErrors[:0]

		rows, err := s.pool.Query(ctx,
			`SELECT tool_name, COUNT(*),
			        COUNT(*) FILTER (WHERE success),
			        COALESCE(AVG(latency_ms), 0)
			 FROM tool_observations
			 WHERE created_at > now() - $1::interval
			 GROUP BY tool_name
			 ORDER BY COUNT(*) DESC`,
			window)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				st        ToolStats
				successes int
			)
			if err := rows.Scan(&st.Tool, &st.Calls, &successes, &st.AvgLatencyMS); err != nil {
				rows.Close()
				return err
			}
			if st.Calls > 0 {
				st.SuccessRate = float64(successes) / float64(st.Calls)
			}
			metrics.TotalCalls += st.Calls
			metrics.Successes += successes
			metrics.PerTool = append(metrics.PerTool, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		errRows, err := s.pool.Query(ctx,
			`SELECT error_category, COUNT(*)
			 FROM tool_observations
			 WHERE created_at > now() - $1::interval
			   AND NOT success AND error_category IS NOT NULL
			 GROUP BY error_category
			 ORDER BY COUNT(*) DESC
			 LIMIT 5`,
			window)
		if err != nil {
			return err
		}
		defer errRows.Close()
		for errRows.Next() {
			var b ErrorBucket
			if err := errRows.Scan(&b.Category, &b.Count); err != nil {
				return err
			}
			metrics.TopErrors = append(metrics.TopErrors, b)
		}
		return errRows.Err()
	})
	if err != nil {
		return nil, err
	}
	if metrics.TotalCalls > 0 {
		metrics.ConvergenceRate = float64(metrics.Successes) / float64(metrics.TotalCalls)
	}
	metrics.Status = ConvergenceStatus(metrics.ConvergenceRate)
	sort.SliceStable(metrics.PerTool, func(i, j int) bool {
		return metrics.PerTool[i].Calls > metrics.PerTool[j].Calls
	})
	return metrics, nil
}

// GetMeta implements Store.
func (s *PostgresStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.run(ctx, "GetMeta", func() error {
		err := s.pool.QueryRow(ctx,
			`SELECT value FROM meta WHERE key = $1`, key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("meta key %q: %w", key, ErrNotFound)
		}
		return err
	})
	return value, err
}

// SetMeta implements Store.
func (s *PostgresStore) SetMeta(ctx context.Context, key, value string) error {
	return s.run(ctx, "SetMeta", func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO meta (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			key, value)
		return err
	})
}

// ExecuteQuery implements Store. The statement is validated as read-only and
// executed inside a READ ONLY transaction so a validator miss still cannot
// write.
func (s *PostgresStore) ExecuteQuery(ctx context.Context, query string, params []any) ([]map[string]any, error) {
	if err := validateReadOnlyQuery(query); err != nil {
		return nil, err
	}

	var results []map[string]any
	err := s.run(ctx, "ExecuteQuery", func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		rows, err := tx.Query(ctx, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		results = results[:0]
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			record := make(map[string]any, len(fields))
			for i, fd := range fields {
				record[fd.Name] = values[i]
			}
			results = append(results, record)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	return results, err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
