// Package knowledge implements the semantic knowledge base the agent loop
// consults to decide which feature (if any) applies to a user message.
//
// Entries are either plain info facts or feature pointers. Each entry's desc
// is embedded into a vector space; search is KNN over pgvector with a minimum
// relevance threshold.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Entry types.
const (
	TypeInfo    = "info"
	TypeFeature = "feature"
)

// DefaultThreshold drops entries below this cosine similarity. Low-confidence
// matches are removed from results entirely, not returned with a flag.
const DefaultThreshold = 0.55

// ErrMissingDesc rejects entries without a desc: an entry that cannot be
// embedded can never be retrieved.
var ErrMissingDesc = errors.New("knowledge entry requires a desc")

// Entry is one knowledge-base document.
type Entry struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Desc is the text embedded for semantic matching.
	Desc string `json:"desc"`

	// Content is the fact surfaced to the model (info entries).
	Content string `json:"content,omitempty"`

	// FeatureName and Tools describe the capability a feature pointer would
	// unlock.
	FeatureName string   `json:"featureName,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// Result is a scored search hit.
type Result struct {
	Entry Entry
	Score float32
}

// Embedder generates the fixed-length vector for a text. Satisfied by
// model.Gemini; tests use a deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Querier is the database surface Search needs. The Postgres implementation
// lives in pg.go; tests substitute a fake.
type Querier interface {
	UpsertEntry(ctx context.Context, e Entry, embedding pgvector.Vector) error
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context) ([]Entry, error)
	SearchEntries(ctx context.Context, embedding pgvector.Vector, limit int) ([]Result, error)
}

// Search performs semantic lookup over the knowledge base.
//
// Search is safe for concurrent use.
type Search struct {
	querier   Querier
	embedder  Embedder
	threshold float32
	logger    *slog.Logger
}

// NewSearch creates the knowledge search. threshold <= 0 uses
// DefaultThreshold.
func NewSearch(querier Querier, embedder Embedder, threshold float32, logger *slog.Logger) *Search {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Search{querier: querier, embedder: embedder, threshold: threshold, logger: logger}
}

// Add embeds and upserts an entry.
func (s *Search) Add(ctx context.Context, e Entry) error {
	if e.Desc == "" {
		return fmt.Errorf("%w: entry %q", ErrMissingDesc, e.ID)
	}
	vec, err := s.embedder.Embed(ctx, e.Desc)
	if err != nil {
		return fmt.Errorf("embedding entry %q: %w", e.ID, err)
	}
	if err := s.querier.UpsertEntry(ctx, e, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("saving entry %q: %w", e.ID, err)
	}
	s.logger.Debug("knowledge entry saved", "id", e.ID, "type", e.Type)
	return nil
}

// Delete removes an entry by id.
func (s *Search) Delete(ctx context.Context, id string) error {
	if err := s.querier.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("deleting entry %q: %w", id, err)
	}
	return nil
}

// List returns all entries (admin surface).
func (s *Search) List(ctx context.Context) ([]Entry, error) {
	return s.querier.ListEntries(ctx)
}

// Query returns the topK most similar entries above the relevance threshold,
// ordered by similarity. Entries without a desc are never returned.
func (s *Search) Query(ctx context.Context, queryText string, topK int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := s.querier.SearchEntries(ctx, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}

	results := hits[:0]
	for _, h := range hits {
		if h.Score < s.threshold || h.Entry.Desc == "" {
			continue
		}
		results = append(results, h)
	}
	s.logger.Debug("knowledge query", "hits", len(results), "top_k", topK)
	return results, nil
}
