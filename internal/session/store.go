package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates the session does not exist in either store.
var ErrNotFound = errors.New("session not found")

const keyPrefix = "raahi:session:"

// DurableStore is the secondary best-effort backup of the Redis fast path,
// consulted only on cache miss. Interface defined here, by the consumer;
// the Postgres implementation lives in pg.go.
type DurableStore interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Save(ctx context.Context, id string, state []byte, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// Store manages session persistence: Redis with TTL as the fast path, plus a
// debounced sync into the durable store.
//
// Store is safe for concurrent use. Individual sessions are not: callers must
// serialize turns per session id.
type Store struct {
	rdb     redis.UniversalClient
	durable DurableStore
	ttl     time.Duration
	logger  *slog.Logger

	syncAfter time.Duration
	mu        sync.Mutex
	pending   map[string]*pendingSync
	closed    bool
	wg        sync.WaitGroup
}

type pendingSync struct {
	timer *time.Timer
	state []byte
	at    time.Time
}

// Options tunes the store. Zero values use defaults.
type Options struct {
	TTL       time.Duration // Redis key TTL (default 24h)
	SyncAfter time.Duration // durable-write debounce window (default 3s)
}

// NewStore creates a session store. durable may be nil, in which case the
// fast path is the only storage.
func NewStore(rdb redis.UniversalClient, durable DurableStore, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	syncAfter := opts.SyncAfter
	if syncAfter <= 0 {
		syncAfter = 3 * time.Second
	}
	return &Store{
		rdb:       rdb,
		durable:   durable,
		ttl:       ttl,
		logger:    logger,
		syncAfter: syncAfter,
		pending:   make(map[string]*pendingSync),
	}
}

// Get retrieves a session. On a fast-path miss it attempts recovery from the
// durable store and backfills Redis. Recovery failures degrade to
// ErrNotFound; they are never fatal.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	val, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	switch {
	case err == nil:
		var sess Session
		if err := json.Unmarshal(val, &sess); err != nil {
			return nil, fmt.Errorf("decoding session %s: %w", id, err)
		}
		// Refresh TTL on read; failure is not worth surfacing.
		if err := s.rdb.Expire(ctx, keyPrefix+id, s.ttl).Err(); err != nil {
			s.logger.Debug("session TTL refresh failed", "id", id, "error", err)
		}
		return &sess, nil
	case errors.Is(err, redis.Nil):
		return s.recover(ctx, id)
	default:
		s.logger.Warn("session fast-path read failed", "id", id, "error", err)
		return s.recover(ctx, id)
	}
}

// recover loads the session from the durable store and backfills Redis.
func (s *Store) recover(ctx context.Context, id string) (*Session, error) {
	if s.durable == nil {
		return nil, ErrNotFound
	}
	state, err := s.durable.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("session durable recovery failed", "id", id, "error", err)
		}
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(state, &sess); err != nil {
		s.logger.Warn("session durable state corrupt", "id", id, "error", err)
		return nil, ErrNotFound
	}
	if err := s.rdb.Set(ctx, keyPrefix+id, state, s.ttl).Err(); err != nil {
		s.logger.Warn("session backfill failed", "id", id, "error", err)
	}
	s.logger.Info("session recovered from durable store", "id", id)
	return &sess, nil
}

// Save updates the last-modified timestamp, persists to Redis, and schedules
// a debounced durable write. Safe to call after every agent-loop round.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.ID, state, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	s.scheduleSync(sess.ID, state, sess.UpdatedAt)
	return nil
}

// Delete removes the fast-path entry and any durable copy.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.cancelSync(id)
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if s.durable != nil {
		if err := s.durable.Delete(ctx, id); err != nil {
			s.logger.Warn("durable session delete failed", "id", id, "error", err)
		}
	}
	return nil
}

// Flush forces any pending durable write for id synchronously. Used on
// connection teardown so the last seconds of conversation are not lost.
func (s *Store) Flush(ctx context.Context, id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		s.writeDurable(ctx, id, p.state, p.at)
	}
}

// Close stops the debouncer, flushing all pending durable writes.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	remaining := s.pending
	s.pending = make(map[string]*pendingSync)
	s.mu.Unlock()

	for id, p := range remaining {
		p.timer.Stop()
		s.writeDurable(ctx, id, p.state, p.at)
	}
	s.wg.Wait()
}

func (s *Store) scheduleSync(id string, state []byte, at time.Time) {
	if s.durable == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if p, ok := s.pending[id]; ok {
		// Coalesce: keep the timer, refresh the payload.
		p.state = state
		p.at = at
		return
	}
	p := &pendingSync{state: state, at: at}
	p.timer = time.AfterFunc(s.syncAfter, func() {
		s.mu.Lock()
		cur, ok := s.pending[id]
		var state []byte
		var at time.Time
		if ok {
			state, at = cur.state, cur.at
			delete(s.pending, id)
			s.wg.Add(1)
		}
		s.mu.Unlock()
		if !ok {
			return
		}
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.writeDurable(ctx, id, state, at)
	})
	s.pending[id] = p
}

func (s *Store) cancelSync(id string) {
	s.mu.Lock()
	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

func (s *Store) writeDurable(ctx context.Context, id string, state []byte, at time.Time) {
	if err := s.durable.Save(ctx, id, state, at); err != nil {
		// Best effort: the next Save reschedules.
		s.logger.Warn("durable session sync failed", "id", id, "error", err)
	}
}
