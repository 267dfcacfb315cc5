package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// UpsertIndexDocument implements Store. The document row, its postings and
// the per-term document frequencies are replaced in one transaction so the
// inverted index never observes a half-indexed document.
func (s *PostgresStore) UpsertIndexDocument(ctx context.Context, doc *IndexDocument, termFreqs map[string]int) (int64, error) {
	var embedding any
	if doc.Embedding != nil {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	var id int64
	err := s.run(ctx, "UpsertIndexDocument", func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			err := tx.QueryRow(ctx,
				`INSERT INTO index_documents
				   (source_type, source_id, title, content, doc_len, doc_embedding)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (source_type, source_id) DO UPDATE
				 SET title = EXCLUDED.title,
				     content = EXCLUDED.content,
				     doc_len = EXCLUDED.doc_len,
				     doc_embedding = COALESCE(EXCLUDED.doc_embedding, index_documents.doc_embedding)
				 RETURNING id`,
				doc.SourceType, doc.SourceID, doc.Title, doc.Content,
				doc.DocLen, embedding).Scan(&id)
			if err != nil {
				return fmt.Errorf("upserting index document: %w", err)
			}

			// Decrement df for the document's old terms, then drop them.
			if _, err := tx.Exec(ctx,
				`UPDATE index_terms t SET df = GREATEST(t.df - 1, 0)
				 FROM index_postings p
				 WHERE p.term = t.term AND p.doc_id = $1`, id); err != nil {
				return fmt.Errorf("decrementing term frequencies: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM index_postings WHERE doc_id = $1`, id); err != nil {
				return fmt.Errorf("clearing postings: %w", err)
			}

			for term, tf := range termFreqs {
				if _, err := tx.Exec(ctx,
					`INSERT INTO index_postings (term, doc_id, tf) VALUES ($1, $2, $3)`,
					term, id, tf); err != nil {
					return fmt.Errorf("inserting posting %q: %w", term, err)
				}
				if _, err := tx.Exec(ctx,
					`INSERT INTO index_terms (term, df) VALUES ($1, 1)
					 ON CONFLICT (term) DO UPDATE SET df = index_terms.df + 1`,
					term); err != nil {
					return fmt.Errorf("bumping df for %q: %w", term, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	doc.ID = id
	return id, nil
}

// GetIndexDocuments implements Store.
func (s *PostgresStore) GetIndexDocuments(ctx context.Context, ids []int64) ([]*IndexDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []*IndexDocument
	err := s.run(ctx, "GetIndexDocuments", func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, source_type, source_id, title, content, doc_len,
			        doc_embedding, created_at
			 FROM index_documents WHERE id = ANY($1)`, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs = docs[:0]
		for rows.Next() {
			var (
				d   IndexDocument
				vec *pgvector.Vector
			)
			if err := rows.Scan(&d.ID, &d.SourceType, &d.SourceID, &d.Title,
				&d.Content, &d.DocLen, &vec, &d.CreatedAt); err != nil {
				return err
			}
			if vec != nil {
				d.Embedding = vec.Slice()
			}
			docs = append(docs, &d)
		}
		return rows.Err()
	})
	return docs, err
}

// GetPostings implements Store.
func (s *PostgresStore) GetPostings(ctx context.Context, terms []string) ([]Posting, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	var postings []Posting
	err := s.run(ctx, "GetPostings", func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT term, doc_id, tf FROM index_postings WHERE term = ANY($1)`,
			terms)
		if err != nil {
			return err
		}
		defer rows.Close()

		postings = postings[:0]
		for rows.Next() {
			var p Posting
			if err := rows.Scan(&p.Term, &p.DocID, &p.TF); err != nil {
				return err
			}
			postings = append(postings, p)
		}
		return rows.Err()
	})
	return postings, err
}

// GetTermDocFreqs implements Store. Terms with no postings are absent.
func (s *PostgresStore) GetTermDocFreqs(ctx context.Context, terms []string) (map[string]int, error) {
	if len(terms) == 0 {
		return map[string]int{}, nil
	}
	dfs := make(map[string]int, len(terms))
	err := s.run(ctx, "GetTermDocFreqs", func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT term, df FROM index_terms WHERE term = ANY($1) AND df > 0`,
			terms)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(dfs)
		for rows.Next() {
			var term string
			var df int
			if err := rows.Scan(&term, &df); err != nil {
				return err
			}
			dfs[term] = df
		}
		return rows.Err()
	})
	return dfs, err
}

// GetIndexStats implements Store.
func (s *PostgresStore) GetIndexStats(ctx context.Context) (IndexStats, error) {
	var stats IndexStats
	err := s.run(ctx, "GetIndexStats", func() error {
		return s.pool.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(AVG(doc_len), 0) FROM index_documents`,
		).Scan(&stats.DocCount, &stats.AvgDocLen)
	})
	return stats, err
}

// FindDocsByVector implements Store.
func (s *PostgresStore) FindDocsByVector(ctx context.Context, embedding []float32, k int, sourceType string) ([]DocVectorHit, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	var hits []DocVectorHit
	err := s.run(ctx, "FindDocsByVector", func() error {
		vec := pgvector.NewVector(embedding)
		var rows pgx.Rows
		var err error
		if sourceType != "" {
			rows, err = s.pool.Query(ctx,
				`SELECT id, 1 - (doc_embedding <=> $1) AS similarity
				 FROM index_documents
				 WHERE doc_embedding IS NOT NULL AND source_type = $2
				 ORDER BY similarity DESC LIMIT $3`,
				vec, sourceType, k)
		} else {
			rows, err = s.pool.Query(ctx,
				`SELECT id, 1 - (doc_embedding <=> $1) AS similarity
				 FROM index_documents
				 WHERE doc_embedding IS NOT NULL
				 ORDER BY similarity DESC LIMIT $2`,
				vec, k)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		hits = hits[:0]
		for rows.Next() {
			var h DocVectorHit
			if err := rows.Scan(&h.DocID, &h.Similarity); err != nil {
				return err
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

// DocVectorSimilarities implements Store.
func (s *PostgresStore) DocVectorSimilarities(ctx context.Context, embedding []float32, ids []int64) (map[int64]float64, error) {
	if len(embedding) == 0 || len(ids) == 0 {
		return map[int64]float64{}, nil
	}
	sims := make(map[int64]float64, len(ids))
	err := s.run(ctx, "DocVectorSimilarities", func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, 1 - (doc_embedding <=> $1)
			 FROM index_documents
			 WHERE id = ANY($2) AND doc_embedding IS NOT NULL`,
			pgvector.NewVector(embedding), ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(sims)
		for rows.Next() {
			var id int64
			var sim float64
			if err := rows.Scan(&id, &sim); err != nil {
				return err
			}
			sims[id] = sim
		}
		return rows.Err()
	})
	return sims, err
}

// reindexBatchSize bounds how many texts go to the embedder per call.
const reindexBatchSize = 16

// ReindexVectors implements Store. Runs after a vector dimension change:
// every report query and index document is re-embedded in batches. A batch
// that fails to embed is skipped; those rows keep a NULL embedding and fall
// back to lexical-only retrieval.
func (s *PostgresStore) ReindexVectors(ctx context.Context, embed func(ctx context.Context, texts []string) ([][]float32, error)) error {
	return s.run(ctx, "ReindexVectors", func() error {
		if err := s.reindexTable(ctx, embed,
			`SELECT id, query FROM reports ORDER BY id`,
			`UPDATE reports SET query_embedding = $2 WHERE id = $1`); err != nil {
			return fmt.Errorf("reindexing reports: %w", err)
		}
		if err := s.reindexTable(ctx, embed,
			`SELECT id, content FROM index_documents ORDER BY id`,
			`UPDATE index_documents SET doc_embedding = $2 WHERE id = $1`); err != nil {
			return fmt.Errorf("reindexing documents: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) reindexTable(ctx context.Context, embed func(ctx context.Context, texts []string) ([][]float32, error), selectSQL, updateSQL string) error {
	rows, err := s.pool.Query(ctx, selectSQL)
	if err != nil {
		return err
	}

	var ids []int64
	var texts []string
	for rows.Next() {
		var id int64
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
		texts = append(texts, text)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for start := 0; start < len(ids); start += reindexBatchSize {
		end := min(start+reindexBatchSize, len(ids))
		vecs, err := embed(ctx, texts[start:end])
		if err != nil || len(vecs) != end-start {
			continue // skip failed batch
		}
		for i, vec := range vecs {
			if _, err := s.pool.Exec(ctx, updateSQL, ids[start+i], pgvector.NewVector(vec)); err != nil {
				return err
			}
		}
	}
	return nil
}
