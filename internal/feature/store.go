package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrFeatureNotFound indicates the named feature does not exist.
var ErrFeatureNotFound = errors.New("feature not found")

// Store persists feature documents in Postgres, one JSONB document per
// feature keyed by name. Every mutation validates the document first; a
// malformed feature is rejected before it can reach a registry rebuild.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates the durable feature store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// List returns every stored feature.
func (s *Store) List(ctx context.Context) ([]Feature, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM features ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning feature: %w", err)
		}
		var f Feature
		if err := json.Unmarshal(doc, &f); err != nil {
			return nil, fmt.Errorf("decoding feature: %w", err)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}
	return features, nil
}

// Get returns one feature by name.
func (s *Store) Get(ctx context.Context, name string) (*Feature, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM features WHERE name = $1`, name).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
		}
		return nil, fmt.Errorf("getting feature %s: %w", name, err)
	}
	var f Feature
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("decoding feature %s: %w", name, err)
	}
	return &f, nil
}

// Upsert validates and persists a feature document.
func (s *Store) Upsert(ctx context.Context, f *Feature) error {
	if err := f.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding feature %s: %w", f.FeatureName, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO features (name, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		f.FeatureName, doc,
	)
	if err != nil {
		return fmt.Errorf("saving feature %s: %w", f.FeatureName, err)
	}
	s.logger.Info("feature saved", "feature", f.FeatureName, "tools", len(f.Tools))
	return nil
}

// Delete removes a feature by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM features WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting feature %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	s.logger.Info("feature deleted", "feature", name)
	return nil
}
