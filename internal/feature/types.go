// Package feature defines hot-reloadable conversational capabilities and the
// in-memory registry that indexes them.
//
// A Feature bundles a prompt, the tools it unlocks, and the UI actions it may
// emit. Features are stored durably (Postgres) and indexed in an immutable
// registry snapshot that is rebuilt on every admin mutation.
package feature

import (
	"errors"
	"fmt"
)

// Sentinel validation errors. Admin writes are rejected with these before
// anything reaches the registry.
var (
	ErrMissingName          = errors.New("feature name is required")
	ErrMissingDesc          = errors.New("feature desc is required")
	ErrDefaultActionMissing = errors.New("defaultAction must be a registered action")
	ErrUnknownToolRef       = errors.New("feature references unregistered tool")
	ErrToolVariant          = errors.New("tool config must populate exactly one implementation variant")
	ErrHTTPToolIncomplete   = errors.New("http tool requires url and method")
	ErrStaticToolEmpty      = errors.New("static tool requires response text")
	ErrBuiltinToolEmpty     = errors.New("builtin tool requires a handler name")
)

// Tool implementation kinds.
const (
	KindStatic  = "static"
	KindBuiltin = "builtin"
	KindHTTP    = "http"
)

// Declaration is the description and JSON-schema parameter spec shown to the
// model for a tool.
type Declaration struct {
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// StaticImpl returns a fixed response string.
type StaticImpl struct {
	Response string `json:"response"`
}

// BuiltinImpl dispatches to a native handler registered under Handler.
type BuiltinImpl struct {
	Handler string `json:"handler"`
}

// HTTPImpl is a template-driven HTTP call. URL, headers, and body are
// interpolated with {{arg}} tokens from the call's arguments and {{ENV.NAME}}
// tokens from process configuration.
type HTTPImpl struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// ResponsePath optionally narrows a JSON response by dot path,
	// e.g. "data.results.0.name".
	ResponsePath string `json:"responsePath,omitempty"`

	// ResponseTemplate optionally reformats the response; {{__response__}}
	// substitutes the (possibly narrowed) response text.
	ResponseTemplate string `json:"responseTemplate,omitempty"`

	// TimeoutSeconds bounds the call. Zero means the executor default (10s).
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// ToolConfig is a named capability the model may invoke. Exactly one
// implementation variant is populated; Kind names it so the executor can
// switch exhaustively.
type ToolConfig struct {
	Name        string      `json:"name"`
	Declaration Declaration `json:"declaration"`

	Kind    string       `json:"kind"`
	Static  *StaticImpl  `json:"static,omitempty"`
	Builtin *BuiltinImpl `json:"builtin,omitempty"`
	HTTP    *HTTPImpl    `json:"http,omitempty"`
}

// Action pairs a UI action emitted to the client with the public intent it
// maps to.
type Action struct {
	UIAction string `json:"uiAction"`
	Intent   string `json:"intent"`
}

// Feature is a named, hot-reloadable conversational capability.
type Feature struct {
	FeatureName   string            `json:"featureName"`
	Desc          string            `json:"desc"`
	Prompt        string            `json:"prompt"`
	Tools         []ToolConfig      `json:"tools,omitempty"`
	Actions       []Action          `json:"actions"`
	DefaultAction string            `json:"defaultAction"`
	DataSchema    map[string]any    `json:"dataSchema,omitempty"`
	AudioMappings map[string]string `json:"audioMappings,omitempty"`

	// PostProcessor names a side-effecting handler run after the agent loop,
	// e.g. the duty search that fills in real results.
	PostProcessor string `json:"postProcessor,omitempty"`
}

// ActionNames returns the feature's UI action names in declaration order.
func (f *Feature) ActionNames() []string {
	names := make([]string, 0, len(f.Actions))
	for _, a := range f.Actions {
		names = append(names, a.UIAction)
	}
	return names
}

// Validate checks a feature document at admin-write time.
func (f *Feature) Validate() error {
	if f.FeatureName == "" {
		return ErrMissingName
	}
	if f.Desc == "" {
		return fmt.Errorf("%w: feature %q", ErrMissingDesc, f.FeatureName)
	}
	if len(f.Actions) > 0 || f.DefaultAction != "" {
		found := false
		for _, a := range f.Actions {
			if a.UIAction == f.DefaultAction {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: feature %q default %q", ErrDefaultActionMissing, f.FeatureName, f.DefaultAction)
		}
	}
	for i := range f.Tools {
		if err := f.Tools[i].Validate(); err != nil {
			return fmt.Errorf("feature %q: %w", f.FeatureName, err)
		}
	}
	return nil
}

// Validate checks the tool config's tagged union invariant.
func (t *ToolConfig) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: unnamed tool", ErrToolVariant)
	}
	populated := 0
	if t.Static != nil {
		populated++
	}
	if t.Builtin != nil {
		populated++
	}
	if t.HTTP != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("%w: tool %q has %d variants", ErrToolVariant, t.Name, populated)
	}
	switch t.Kind {
	case KindStatic:
		if t.Static == nil || t.Static.Response == "" {
			return fmt.Errorf("%w: tool %q", ErrStaticToolEmpty, t.Name)
		}
	case KindBuiltin:
		if t.Builtin == nil || t.Builtin.Handler == "" {
			return fmt.Errorf("%w: tool %q", ErrBuiltinToolEmpty, t.Name)
		}
	case KindHTTP:
		if t.HTTP == nil || t.HTTP.URL == "" || t.HTTP.Method == "" {
			return fmt.Errorf("%w: tool %q", ErrHTTPToolIncomplete, t.Name)
		}
	default:
		return fmt.Errorf("%w: tool %q kind %q", ErrToolVariant, t.Name, t.Kind)
	}
	return nil
}
