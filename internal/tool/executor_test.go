package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/log"
	"github.com/cabswale/raahi-agent/internal/session"
)

// mapSource is a ConfigSource backed by a plain map.
type mapSource map[string]*feature.ToolConfig

func (m mapSource) GetToolConfig(name string) (*feature.ToolConfig, bool) {
	cfg, ok := m[name]
	return cfg, ok
}

func newTestExecutor(t *testing.T, client *http.Client, env map[string]string) *Executor {
	t.Helper()
	getenv := func(name string) string { return env[name] }
	return NewExecutor(client, getenv, log.NewNop())
}

func TestExecuteStatic(t *testing.T) {
	src := mapSource{
		"help": {
			Name:   "help",
			Kind:   feature.KindStatic,
			Static: &feature.StaticImpl{Response: "Call support at 1800-000."},
		},
	}
	exec := newTestExecutor(t, nil, nil)

	out := exec.Execute(context.Background(), src, "help", nil, nil)
	if got, want := out.Message, "Call support at 1800-000."; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := newTestExecutor(t, nil, nil)

	out := exec.Execute(context.Background(), mapSource{}, "ghost", nil, nil)
	if got, want := out.Message, `Tool "ghost" not found.`; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

// Framework tools (fetchKnowledgeBase and friends) have no feature config;
// they must resolve through the handler table by their own name.
func TestExecuteFrameworkHandler(t *testing.T) {
	exec := newTestExecutor(t, nil, nil)
	exec.Register("fetchKnowledgeBase", func(ctx context.Context, args map[string]any, sess *session.Session) (Outcome, error) {
		q, _ := args["query"].(string)
		return Outcome{Message: "matched: " + q}, nil
	})

	out := exec.Execute(context.Background(), mapSource{}, "fetchKnowledgeBase", map[string]any{"query": "duty"}, nil)
	if got, want := out.Message, "matched: duty"; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}

	out = exec.Execute(context.Background(), mapSource{}, "ghost", nil, nil)
	if got, want := out.Message, `Tool "ghost" not found.`; got != want {
		t.Errorf("unregistered name Message = %q, want %q", got, want)
	}
}

func TestExecuteBuiltin(t *testing.T) {
	src := mapSource{
		"verify": {
			Name:    "verify",
			Kind:    feature.KindBuiltin,
			Builtin: &feature.BuiltinImpl{Handler: "verifyThing"},
		},
	}

	t.Run("dispatches to registered handler", func(t *testing.T) {
		exec := newTestExecutor(t, nil, nil)
		exec.Register("verifyThing", func(ctx context.Context, args map[string]any, sess *session.Session) (Outcome, error) {
			return Outcome{Message: "verified", Data: map[string]any{"ok": true}}, nil
		})

		out := exec.Execute(context.Background(), src, "verify", nil, nil)
		if out.Message != "verified" {
			t.Errorf("Message = %q, want %q", out.Message, "verified")
		}
		if out.Data["ok"] != true {
			t.Errorf("Data = %v, want ok=true", out.Data)
		}
	})

	t.Run("missing handler becomes a message", func(t *testing.T) {
		exec := newTestExecutor(t, nil, nil)

		out := exec.Execute(context.Background(), src, "verify", nil, nil)
		want := `Tool "verify" has no registered handler "verifyThing".`
		if out.Message != want {
			t.Errorf("Message = %q, want %q", out.Message, want)
		}
	})

	t.Run("handler error becomes a message", func(t *testing.T) {
		exec := newTestExecutor(t, nil, nil)
		exec.Register("verifyThing", func(ctx context.Context, args map[string]any, sess *session.Session) (Outcome, error) {
			return Outcome{}, errors.New("upstream down")
		})

		out := exec.Execute(context.Background(), src, "verify", nil, nil)
		want := `Tool "verify" failed: upstream down`
		if out.Message != want {
			t.Errorf("Message = %q, want %q", out.Message, want)
		}
	})

	t.Run("handler panic is recovered", func(t *testing.T) {
		exec := newTestExecutor(t, nil, nil)
		exec.Register("verifyThing", func(ctx context.Context, args map[string]any, sess *session.Session) (Outcome, error) {
			panic("boom")
		})

		out := exec.Execute(context.Background(), src, "verify", nil, nil)
		want := `Tool "verify" failed unexpectedly.`
		if out.Message != want {
			t.Errorf("Message = %q, want %q", out.Message, want)
		}
	})
}

func TestExecuteHTTP(t *testing.T) {
	t.Run("interpolates url, headers and body", func(t *testing.T) {
		var gotPath, gotAuth, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.RequestURI()
			gotAuth = r.Header.Get("Authorization")
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			fmt.Fprint(w, `{"status":"booked"}`)
		}))
		defer srv.Close()

		src := mapSource{
			"book": {
				Name: "book",
				Kind: feature.KindHTTP,
				HTTP: &feature.HTTPImpl{
					URL:     srv.URL + "/book?city={{city}}",
					Method:  "post",
					Headers: map[string]string{"Authorization": "Bearer {{ENV.TOKEN}}"},
					Body:    `{"driver":"{{driver}}"}`,
				},
			},
		}
		exec := newTestExecutor(t, srv.Client(), map[string]string{"TOKEN": "t0k"})

		args := map[string]any{"city": "Jaipur", "driver": "d-1"}
		out := exec.Execute(context.Background(), src, "book", args, nil)

		if gotPath != "/book?city=Jaipur" {
			t.Errorf("request path = %q, want %q", gotPath, "/book?city=Jaipur")
		}
		if gotAuth != "Bearer t0k" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer t0k")
		}
		if gotBody != `{"driver":"d-1"}` {
			t.Errorf("body = %q, want %q", gotBody, `{"driver":"d-1"}`)
		}
		if out.Message != `{"status":"booked"}` {
			t.Errorf("Message = %q, want raw body", out.Message)
		}
	})

	t.Run("response path narrows json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":{"results":[{"name":"Ramesh"}]}}`)
		}))
		defer srv.Close()

		src := mapSource{
			"lookup": {
				Name: "lookup",
				Kind: feature.KindHTTP,
				HTTP: &feature.HTTPImpl{
					URL:          srv.URL,
					Method:       "GET",
					ResponsePath: "data.results.0.name",
				},
			},
		}
		exec := newTestExecutor(t, srv.Client(), nil)

		out := exec.Execute(context.Background(), src, "lookup", nil, nil)
		if out.Message != "Ramesh" {
			t.Errorf("Message = %q, want %q", out.Message, "Ramesh")
		}
	})

	t.Run("response template wraps the body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"count":3}`)
		}))
		defer srv.Close()

		src := mapSource{
			"count": {
				Name: "count",
				Kind: feature.KindHTTP,
				HTTP: &feature.HTTPImpl{
					URL:              srv.URL,
					Method:           "GET",
					ResponsePath:     "count",
					ResponseTemplate: "Found {{__response__}} duties near {{city}}.",
				},
			},
		}
		exec := newTestExecutor(t, srv.Client(), nil)

		out := exec.Execute(context.Background(), src, "count", map[string]any{"city": "Pune"}, nil)
		if got, want := out.Message, "Found 3 duties near Pune."; got != want {
			t.Errorf("Message = %q, want %q", got, want)
		}
	})

	t.Run("non-2xx becomes a status message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		src := mapSource{
			"flaky": {
				Name: "flaky",
				Kind: feature.KindHTTP,
				HTTP: &feature.HTTPImpl{URL: srv.URL, Method: "GET"},
			},
		}
		exec := newTestExecutor(t, srv.Client(), nil)

		out := exec.Execute(context.Background(), src, "flaky", nil, nil)
		if !strings.HasPrefix(out.Message, `Tool "flaky" returned status 503:`) {
			t.Errorf("Message = %q, want status 503 prefix", out.Message)
		}
	})

	t.Run("unreachable host becomes a message", func(t *testing.T) {
		src := mapSource{
			"dead": {
				Name: "dead",
				Kind: feature.KindHTTP,
				HTTP: &feature.HTTPImpl{URL: "http://127.0.0.1:1/nothing", Method: "GET"},
			},
		}
		exec := newTestExecutor(t, nil, nil)

		out := exec.Execute(context.Background(), src, "dead", nil, nil)
		if !strings.HasPrefix(out.Message, `Tool "dead" request failed:`) {
			t.Errorf("Message = %q, want request failed prefix", out.Message)
		}
	})
}
