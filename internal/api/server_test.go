package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/log"
)

// newTestServer builds a server with a live registry but no session store or
// agent loop. That is enough for the paths that never reach them.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := feature.NewRegistry(log.NewNop())
	registry.Rebuild(nil, map[string]string{
		"greeting":  "https://audio.example/greeting.mp3",
		"find_chip": "https://audio.example/find_chip.mp3",
	})
	return NewServer(nil, nil, registry, nil, nil, nil, log.NewNop())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestQueryChipClick(t *testing.T) {
	tests := []struct {
		name       string
		chip       string
		wantAction string
		wantAudio  string
	}{
		{"find chip", chipFind, actionFindChip, "find_chip"},
		{"tools chip", chipTools, actionTools, "tools_chip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			body := `{"sessionId":"s-1","chipClick":"` + tt.chip + `"}`
			req := httptest.NewRequest(http.MethodPost, "/assistant/query", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var resp QueryResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if resp.UIAction != tt.wantAction {
				t.Errorf("UIAction = %q, want %q", resp.UIAction, tt.wantAction)
			}
			if resp.AudioKey != tt.wantAudio {
				t.Errorf("AudioKey = %q, want %q", resp.AudioKey, tt.wantAudio)
			}
			if !resp.Success || resp.SessionID != "s-1" {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestChipClickAssignsSessionID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/assistant/query", strings.NewReader(`{"chipClick":"find"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("SessionID not assigned for fresh session")
	}
}

func TestQueryRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/assistant/query", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBuildResponseResolvesAudioURL(t *testing.T) {
	s := newTestServer(t)
	resp := s.chipResponse(QueryRequest{SessionID: "s-1", ChipClick: chipFind})
	if resp.AudioURL != "https://audio.example/find_chip.mp3" {
		t.Errorf("AudioURL = %q, want registry mapping", resp.AudioURL)
	}
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex

	t.Run("serializes one key", func(t *testing.T) {
		var order []int
		var wg sync.WaitGroup
		unlock := km.lock("a")
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := km.lock("a")
			order = append(order, 2)
			u()
		}()
		order = append(order, 1)
		unlock()
		wg.Wait()
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("order = %v, want [1 2]", order)
		}
	})

	t.Run("independent keys do not block", func(t *testing.T) {
		unlockA := km.lock("a")
		defer unlockA()

		done := make(chan struct{})
		go func() {
			u := km.lock("b")
			u()
			close(done)
		}()
		<-done
	})
}
