package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGQuerier implements Querier on Postgres + pgvector. The kb_entries table
// stores one row per entry with a vector(768) embedding column; KNN uses
// cosine distance.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates the Postgres knowledge querier.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

// UpsertEntry inserts or replaces an entry and its embedding.
func (q *PGQuerier) UpsertEntry(ctx context.Context, e Entry, embedding pgvector.Vector) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO kb_entries (id, entry_type, description, content, feature_name, tools, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   entry_type = EXCLUDED.entry_type,
		   description = EXCLUDED.description,
		   content = EXCLUDED.content,
		   feature_name = EXCLUDED.feature_name,
		   tools = EXCLUDED.tools,
		   embedding = EXCLUDED.embedding`,
		e.ID, e.Type, e.Desc, e.Content, e.FeatureName, e.Tools, embedding,
	)
	if err != nil {
		return fmt.Errorf("upserting kb entry: %w", err)
	}
	return nil
}

// DeleteEntry removes an entry.
func (q *PGQuerier) DeleteEntry(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM kb_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting kb entry: %w", err)
	}
	return nil
}

// ListEntries returns all entries without embeddings.
func (q *PGQuerier) ListEntries(ctx context.Context) ([]Entry, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, entry_type, description, content, feature_name, tools FROM kb_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing kb entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Type, &e.Desc, &e.Content, &e.FeatureName, &e.Tools); err != nil {
			return nil, fmt.Errorf("scanning kb entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing kb entries: %w", err)
	}
	return entries, nil
}

// SearchEntries performs KNN by cosine distance and returns similarity
// scores in [0, 1].
func (q *PGQuerier) SearchEntries(ctx context.Context, embedding pgvector.Vector, limit int) ([]Result, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, entry_type, description, content, feature_name, tools,
		        1 - (embedding <=> $1) AS score
		 FROM kb_entries
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		embedding, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching kb entries: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Entry.ID, &r.Entry.Type, &r.Entry.Desc, &r.Entry.Content,
			&r.Entry.FeatureName, &r.Entry.Tools, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning kb search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching kb entries: %w", err)
	}
	return results, nil
}
