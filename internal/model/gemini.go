// Package model wraps the Gemini SDK behind the small request/response
// surface the agent loop consumes: one generation call in, at most one
// function call out.
package model

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/cabswale/raahi-agent/internal/session"
)

// EmbeddingDim is the embedding width stored in pgvector; the embedder model
// truncates its output to this via OutputDimensionality.
const EmbeddingDim = 768

// Declaration describes one callable tool to the model. Parameters is a
// JSON-schema object.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one generation round.
type Request struct {
	System  string
	History []session.Turn
	Tools   []Declaration
}

// Response is the model's reply: accumulated text and the first function
// call seen, if any. Additional calls in the same reply are dropped before
// the agent loop ever sees them.
type Response struct {
	Text string
	Call *session.FunctionCall
}

// Config holds Gemini construction parameters.
type Config struct {
	APIKey        string
	ModelName     string
	EmbedderModel string
	Temperature   float32

	// Limiter optionally rate-limits generation calls. Nil disables.
	Limiter *rate.Limiter
}

// Gemini implements generation and embedding over the Gemini API.
//
// Gemini is safe for concurrent use.
type Gemini struct {
	client      *genai.Client
	modelName   string
	embedModel  string
	temperature float32
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewGemini creates the Gemini client.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &Gemini{
		client:      client,
		modelName:   cfg.ModelName,
		embedModel:  cfg.EmbedderModel,
		temperature: cfg.Temperature,
		limiter:     cfg.Limiter,
		logger:      logger,
	}, nil
}

// Generate runs one model round with the given history, tool declarations
// and system prompt.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	contents := historyToContents(req.History)
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, d := range req.Tools {
			fd := &genai.FunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
			}
			if d.Parameters != nil {
				fd.ParametersJsonSchema = d.Parameters
			}
			decls = append(decls, fd)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	return parseResponse(resp), nil
}

// Embed generates the embedding vector for text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr[int32](EmbeddingDim),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

// historyToContents converts session turns into Gemini contents. The Gemini
// API only knows the user and model roles; function results travel as
// user-role contents carrying FunctionResponse parts.
func historyToContents(history []session.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := genai.RoleUser
		if turn.Role == session.RoleModel {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			default:
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// parseResponse extracts accumulated text and the first function call.
func parseResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil && out.Call == nil {
			out.Call = &session.FunctionCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
		}
	}
	return out
}
