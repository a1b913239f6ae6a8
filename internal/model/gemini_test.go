package model

import (
	"testing"

	"google.golang.org/genai"

	"github.com/cabswale/raahi-agent/internal/session"
)

func TestParseResponse(t *testing.T) {
	t.Run("nil and empty candidates", func(t *testing.T) {
		for _, resp := range []*genai.GenerateContentResponse{
			nil,
			{},
			{Candidates: []*genai.Candidate{{}}},
		} {
			got := parseResponse(resp)
			if got.Text != "" || got.Call != nil {
				t.Errorf("parseResponse(%v) = %+v, want empty", resp, got)
			}
		}
	})

	t.Run("accumulates text parts", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{
					{Text: "Haan ji, "},
					nil,
					{Text: "bataiye."},
				}},
			}},
		}
		got := parseResponse(resp)
		if got.Text != "Haan ji, bataiye." {
			t.Errorf("Text = %q", got.Text)
		}
		if got.Call != nil {
			t.Errorf("Call = %+v, want nil", got.Call)
		}
	})

	t.Run("keeps only the first function call", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{
					{Text: "Searching."},
					{FunctionCall: &genai.FunctionCall{Name: "fetchKnowledgeBase", Args: map[string]any{"query": "duty"}}},
					{FunctionCall: &genai.FunctionCall{Name: "openScreen", Args: map[string]any{"screen": "home"}}},
				}},
			}},
		}
		got := parseResponse(resp)
		if got.Text != "Searching." {
			t.Errorf("Text = %q", got.Text)
		}
		if got.Call == nil || got.Call.Name != "fetchKnowledgeBase" {
			t.Fatalf("Call = %+v, want first call fetchKnowledgeBase", got.Call)
		}
		if got.Call.Args["query"] != "duty" {
			t.Errorf("Call.Args = %v", got.Call.Args)
		}
	})
}

func TestHistoryToContents(t *testing.T) {
	history := []session.Turn{
		{Role: session.RoleUser, Parts: []session.Part{{Text: "hello"}}},
		{Role: session.RoleModel, Parts: []session.Part{
			{FunctionCall: &session.FunctionCall{Name: "openScreen", Args: map[string]any{"screen": "home"}}},
		}},
		{Role: session.RoleFunction, Parts: []session.Part{
			{FunctionResponse: &session.FunctionResponse{Name: "openScreen", Response: map[string]any{"result": "ok"}}},
		}},
	}

	contents := historyToContents(history)
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}

	if contents[0].Role != genai.RoleUser || contents[0].Parts[0].Text != "hello" {
		t.Errorf("user turn mapped to %q %+v", contents[0].Role, contents[0].Parts[0])
	}

	if contents[1].Role != genai.RoleModel {
		t.Errorf("model turn role = %q, want model", contents[1].Role)
	}
	if fc := contents[1].Parts[0].FunctionCall; fc == nil || fc.Name != "openScreen" {
		t.Errorf("model turn call = %+v", contents[1].Parts[0])
	}

	// Function results travel with the user role.
	if contents[2].Role != genai.RoleUser {
		t.Errorf("function turn role = %q, want user", contents[2].Role)
	}
	if fr := contents[2].Parts[0].FunctionResponse; fr == nil || fr.Response["result"] != "ok" {
		t.Errorf("function turn response = %+v", contents[2].Parts[0])
	}
}
