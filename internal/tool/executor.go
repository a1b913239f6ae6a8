// Package tool executes the capabilities a feature unlocks for the model.
//
// A tool is backed by one of three implementation variants: a static response
// string, a registered native handler, or a template-driven HTTP call. The
// executor converts every failure into a textual result the model can read
// and recover from conversationally; it never propagates an error into the
// agent loop.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cabswale/raahi-agent/internal/feature"
	"github.com/cabswale/raahi-agent/internal/session"
)

// DefaultHTTPTimeout bounds templated HTTP tool calls unless the config
// specifies its own.
const DefaultHTTPTimeout = 10 * time.Second

// maxResponseBytes caps HTTP tool response bodies.
const maxResponseBytes = 1 << 20

// Outcome is the result of one tool execution: a textual message for the
// model plus optional structured side-channel outputs merged into the turn's
// accumulating result.
type Outcome struct {
	// Message is fed back to the model as the function response.
	Message string

	// UIAction, Screen and AudioKey are surfaced to the client.
	UIAction string
	Screen   string
	AudioKey string

	// Data fields merge into the turn's payload; later tool calls overwrite
	// same-named fields.
	Data map[string]any
}

// Handler is a native implementation for a builtin tool. Handlers report
// domain failures through Outcome.Message; a returned error is still
// converted to a message by the executor.
type Handler func(ctx context.Context, args map[string]any, sess *session.Session) (Outcome, error)

// ConfigSource resolves tool names to configs. Satisfied by both
// *feature.Registry and *feature.Snapshot; the agent loop passes the snapshot
// it captured for the turn.
type ConfigSource interface {
	GetToolConfig(name string) (*feature.ToolConfig, bool)
}

// Executor runs tools by name.
//
// Executor is safe for concurrent use after Register calls complete; handler
// registration happens during wiring, before traffic.
type Executor struct {
	client   *http.Client
	handlers map[string]Handler
	getenv   func(string) string
	logger   *slog.Logger
}

// NewExecutor creates an executor. client may be nil for the default;
// getenv may be nil for os.Getenv.
func NewExecutor(client *http.Client, getenv func(string) string, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:   client,
		handlers: make(map[string]Handler),
		getenv:   getenv,
		logger:   logger,
	}
}

// Register installs a native handler for builtin tools.
func (e *Executor) Register(name string, h Handler) {
	e.handlers[name] = h
}

// Execute runs the named tool against the given config source. All failures
// come back as Outcome.Message text; Execute never panics outward and never
// returns an error.
func (e *Executor) Execute(ctx context.Context, src ConfigSource, name string, args map[string]any, sess *session.Session) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", name, "panic", r)
			out = Outcome{Message: fmt.Sprintf("Tool %q failed unexpectedly.", name)}
		}
	}()

	start := time.Now()
	cfg, ok := src.GetToolConfig(name)
	if !ok {
		// Framework tools carry no feature config; they are handlers
		// registered under their own name.
		if _, direct := e.handlers[name]; !direct {
			return Outcome{Message: fmt.Sprintf("Tool %q not found.", name)}
		}
		out = e.callHandler(ctx, name, name, args, sess)
		e.logger.Debug("tool executed", "tool", name, "kind", feature.KindBuiltin, "duration", time.Since(start))
		return out
	}

	switch cfg.Kind {
	case feature.KindStatic:
		out = Outcome{Message: cfg.Static.Response}
	case feature.KindBuiltin:
		out = e.callHandler(ctx, cfg.Name, cfg.Builtin.Handler, args, sess)
	case feature.KindHTTP:
		out = e.executeHTTP(ctx, cfg, args)
	default:
		out = Outcome{Message: fmt.Sprintf("Tool %q has unsupported kind %q.", name, cfg.Kind)}
	}
	e.logger.Debug("tool executed", "tool", name, "kind", cfg.Kind, "duration", time.Since(start))
	return out
}

func (e *Executor) callHandler(ctx context.Context, toolName, handlerName string, args map[string]any, sess *session.Session) Outcome {
	h, ok := e.handlers[handlerName]
	if !ok {
		e.logger.Warn("builtin handler missing", "tool", toolName, "handler", handlerName)
		return Outcome{Message: fmt.Sprintf("Tool %q has no registered handler %q.", toolName, handlerName)}
	}
	out, err := h(ctx, args, sess)
	if err != nil {
		e.logger.Warn("builtin handler failed", "tool", toolName, "error", err)
		return Outcome{Message: fmt.Sprintf("Tool %q failed: %v", toolName, err)}
	}
	return out
}

func (e *Executor) executeHTTP(ctx context.Context, cfg *feature.ToolConfig, args map[string]any) Outcome {
	impl := cfg.HTTP
	lookup := argEnvLookup(args, e.getenv)

	timeout := DefaultHTTPTimeout
	if impl.TimeoutSeconds > 0 {
		timeout = time.Duration(impl.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := Expand(impl.URL, lookup)

	var body io.Reader
	if impl.Body != "" {
		body = strings.NewReader(Expand(impl.Body, lookup))
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(impl.Method), url, body)
	if err != nil {
		return Outcome{Message: fmt.Sprintf("Tool %q request invalid: %v", cfg.Name, err)}
	}
	if impl.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range impl.Headers {
		req.Header.Set(k, Expand(v, lookup))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("http tool call failed", "tool", cfg.Name, "url", url, "error", err)
		return Outcome{Message: fmt.Sprintf("Tool %q request failed: %v", cfg.Name, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Outcome{Message: fmt.Sprintf("Tool %q response unreadable: %v", cfg.Name, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.Warn("http tool non-2xx", "tool", cfg.Name, "status", resp.StatusCode)
		return Outcome{Message: fmt.Sprintf("Tool %q returned status %d: %s", cfg.Name, resp.StatusCode, truncate(string(raw), 200))}
	}

	text := string(raw)
	if impl.ResponsePath != "" {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			if v, ok := extractPath(decoded, impl.ResponsePath); ok {
				text = renderJSONValue(v)
			}
		}
	}
	if impl.ResponseTemplate != "" {
		text = Expand(impl.ResponseTemplate, func(key string) (string, bool) {
			if key == "__response__" {
				return text, true
			}
			return lookup(key)
		})
	}
	return Outcome{Message: text}
}

// renderJSONValue prints a narrowed JSON value: scalars plainly, structures
// re-encoded.
func renderJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, bool:
		return stringify(t)
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(enc)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
