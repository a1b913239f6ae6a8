// Package testutil provides deterministic fakes shared by package tests: a
// scripted model generator and a hash-based embedder.
package testutil

import (
	"context"
	"sync"

	"github.com/cabswale/raahi-agent/internal/model"
	"github.com/cabswale/raahi-agent/internal/session"
)

// ScriptedGenerator replays a fixed sequence of model responses and records
// every request it receives.
//
// Thread-safe for concurrent use.
type ScriptedGenerator struct {
	mu       sync.Mutex
	script   []*model.Response
	pos      int
	repeat   *model.Response
	requests []model.Request
}

// NewScriptedGenerator creates a generator that returns the given responses
// in order. When the script runs out it returns an empty response unless
// RepeatForever was set.
func NewScriptedGenerator(responses ...*model.Response) *ScriptedGenerator {
	return &ScriptedGenerator{script: responses}
}

// RepeatForever sets the response returned on every call after the script is
// exhausted. Use it to simulate a model that never stops calling tools.
func (g *ScriptedGenerator) RepeatForever(resp *model.Response) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.repeat = resp
}

// Generate implements the agent's Generator interface.
func (g *ScriptedGenerator) Generate(_ context.Context, req model.Request) (*model.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	if g.pos < len(g.script) {
		resp := g.script[g.pos]
		g.pos++
		return resp, nil
	}
	if g.repeat != nil {
		return g.repeat, nil
	}
	return &model.Response{}, nil
}

// Requests returns a copy of every request seen so far.
func (g *ScriptedGenerator) Requests() []model.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]model.Request, len(g.requests))
	copy(cp, g.requests)
	return cp
}

// CallCount reports how many times Generate ran.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// TextResponse builds a final-text model response.
func TextResponse(text string) *model.Response {
	return &model.Response{Text: text}
}

// CallResponse builds a function-call model response.
func CallResponse(name string, args map[string]any) *model.Response {
	return &model.Response{Call: &session.FunctionCall{Name: name, Args: args}}
}
