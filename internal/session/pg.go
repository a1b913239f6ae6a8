package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements DurableStore on Postgres. One row per session, the
// whole state as JSONB.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates the Postgres-backed durable store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Load returns the stored state for id, or ErrNotFound.
func (p *PGStore) Load(ctx context.Context, id string) ([]byte, error) {
	var state []byte
	err := p.pool.QueryRow(ctx,
		`SELECT state FROM sessions WHERE id = $1`, id,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return state, nil
}

// Save upserts the session state.
func (p *PGStore) Save(ctx context.Context, id string, state []byte, updatedAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, state, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		id, state, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

// Delete removes the session row. Deleting an absent row is not an error.
func (p *PGStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}
