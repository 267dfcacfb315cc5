package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const reportColumns = `id, query, params, final_report, metadata,
	based_on_report_ids, feedback, accuracy_score, fact_check,
	query_embedding, created_at, updated_at`

// SaveReport implements Store.
func (s *PostgresStore) SaveReport(ctx context.Context, r *Report) (int64, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return 0, fmt.Errorf("marshaling report params: %w", err)
	}
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshaling report metadata: %w", err)
	}

	var embedding any
	if r.QueryEmbedding != nil {
		embedding = pgvector.NewVector(r.QueryEmbedding)
	}
	basedOn := r.BasedOnReportIDs
	if basedOn == nil {
		basedOn = []int64{}
	}

	var id int64
	err = s.run(ctx, "SaveReport", func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO reports
			   (query, params, final_report, metadata, based_on_report_ids,
			    fact_check, query_embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			r.Query, params, r.FinalReport, metadata, basedOn,
			r.FactCheck, embedding,
		).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// GetReportByID implements Store.
func (s *PostgresStore) GetReportByID(ctx context.Context, id int64) (*Report, error) {
	var report *Report
	err := s.run(ctx, "GetReportByID", func() error {
		row := s.pool.QueryRow(ctx,
			`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
		r, err := scanReport(row)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	return report, err
}

// ListRecentReports implements Store.
func (s *PostgresStore) ListRecentReports(ctx context.Context, limit int, queryFilter string) ([]*Report, error) {
	if limit <= 0 {
		limit = 10
	}
	var reports []*Report
	err := s.run(ctx, "ListRecentReports", func() error {
		var rows pgx.Rows
		var err error
		if queryFilter != "" {
			rows, err = s.pool.Query(ctx,
				`SELECT `+reportColumns+` FROM reports
				 WHERE query ILIKE '%' || $1 || '%'
				 ORDER BY created_at DESC LIMIT $2`,
				queryFilter, limit)
		} else {
			rows, err = s.pool.Query(ctx,
				`SELECT `+reportColumns+` FROM reports
				 ORDER BY created_at DESC LIMIT $1`, limit)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		reports = reports[:0]
		for rows.Next() {
			r, err := scanReport(rows)
			if err != nil {
				return err
			}
			reports = append(reports, r)
		}
		return rows.Err()
	})
	return reports, err
}

// AddFeedback implements Store. The feedback list is an append-only JSONB
// log; the append happens server-side so concurrent feedback never tears.
func (s *PostgresStore) AddFeedback(ctx context.Context, reportID int64, fb Feedback) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", fb.Rating)
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	entry, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshaling feedback: %w", err)
	}

	return s.run(ctx, "AddFeedback", func() error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE reports
			 SET feedback = feedback || $2::jsonb, updated_at = now()
			 WHERE id = $1`,
			reportID, entry)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("report %d: %w", reportID, ErrNotFound)
		}
		return nil
	})
}

// FindReportsBySimilarity implements Store. Cosine similarity runs against
// the HNSW-indexed query_embedding column; the adaptive threshold retries
// once per the floor policy in similarity.go.
func (s *PostgresStore) FindReportsBySimilarity(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]SimilarReport, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	var hits []SimilarReport
	err := s.run(ctx, "FindReportsBySimilarity", func() error {
		vec := pgvector.NewVector(embedding)
		for _, floor := range adaptiveFloors(minSimilarity) {
			rows, err := s.pool.Query(ctx,
				`SELECT `+reportColumns+`, 1 - (query_embedding <=> $1) AS similarity
				 FROM reports
				 WHERE query_embedding IS NOT NULL
				   AND 1 - (query_embedding <=> $1) >= $2
				 ORDER BY similarity DESC
				 LIMIT $3`,
				vec, floor, k)
			if err != nil {
				return err
			}

			hits = hits[:0]
			for rows.Next() {
				r, sim, err := scanSimilarReport(rows)
				if err != nil {
					rows.Close()
					return err
				}
				hits = append(hits, SimilarReport{Report: r, Similarity: sim})
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			if len(hits) > 0 {
				return nil
			}
		}
		return nil
	})
	return hits, err
}

// FindReportByExactQuery implements Store.
func (s *PostgresStore) FindReportByExactQuery(ctx context.Context, query string) (*Report, error) {
	var report *Report
	err := s.run(ctx, "FindReportByExactQuery", func() error {
		row := s.pool.QueryRow(ctx,
			`SELECT `+reportColumns+` FROM reports
			 WHERE query = $1 ORDER BY created_at DESC LIMIT 1`, query)
		r, err := scanReport(row)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	return report, err
}

// scanReport reads one report row in reportColumns order.
func scanReport(row pgx.Row) (*Report, error) {
	var (
		r         Report
		params    []byte
		metadata  []byte
		feedback  []byte
		embedding *pgvector.Vector
	)
	err := row.Scan(&r.ID, &r.Query, &params, &r.FinalReport, &metadata,
		&r.BasedOnReportIDs, &feedback, &r.AccuracyScore, &r.FactCheck,
		&embedding, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &r.Params); err != nil {
		return nil, fmt.Errorf("unmarshaling report params: %w", err)
	}
	if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling report metadata: %w", err)
	}
	if len(feedback) > 0 {
		if err := json.Unmarshal(feedback, &r.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshaling report feedback: %w", err)
		}
	}
	if embedding != nil {
		r.QueryEmbedding = embedding.Slice()
	}
	return &r, nil
}

// scanSimilarReport reads a report row followed by a similarity column.
func scanSimilarReport(rows pgx.Rows) (*Report, float64, error) {
	var (
		r         Report
		params    []byte
		metadata  []byte
		feedback  []byte
		embedding *pgvector.Vector
		sim       float64
	)
	err := rows.Scan(&r.ID, &r.Query, &params, &r.FinalReport, &metadata,
		&r.BasedOnReportIDs, &feedback, &r.AccuracyScore, &r.FactCheck,
		&embedding, &r.CreatedAt, &r.UpdatedAt, &sim)
	if err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal(params, &r.Params); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling report params: %w", err)
	}
	if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling report metadata: %w", err)
	}
	if len(feedback) > 0 {
		if err := json.Unmarshal(feedback, &r.Feedback); err != nil {
			return nil, 0, fmt.Errorf("unmarshaling report feedback: %w", err)
		}
	}
	if embedding != nil {
		r.QueryEmbedding = embedding.Slice()
	}
	return &r, sim, nil
}
