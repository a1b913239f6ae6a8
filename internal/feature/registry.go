package feature

import (
	"log/slog"
	"sync/atomic"
)

// System actions always present, even with zero features loaded. "entry" is
// the greeting state; "none" means no screen change.
var systemActions = map[string]string{
	"entry": "entry",
	"none":  DefaultIntent,
}

// DefaultIntent is returned for UI actions with no registered mapping.
const DefaultIntent = "generic"

// Snapshot is one immutable build of the registry indices. Request handlers
// capture a snapshot once and use it for the whole turn, so a concurrent
// rebuild can never present a torn view.
type Snapshot struct {
	features     map[string]*Feature
	toolDecls    map[string]Declaration
	toolConfigs  map[string]*ToolConfig
	actionIntent map[string]string
	audio        map[string]string
	uiActions    map[string]struct{}
}

// Registry maps features, tools, actions and audio keys. Reads go through an
// atomically swapped snapshot; Rebuild constructs a new snapshot off to the
// side and publishes it with a single pointer swap.
type Registry struct {
	snap   atomic.Pointer[Snapshot]
	logger *slog.Logger
}

// NewRegistry creates an empty registry (system actions only).
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.Rebuild(nil, nil)
	return r
}

// Rebuild reconstructs all indices from the given feature list and base audio
// map. Triggered after every feature add/update/delete.
func (r *Registry) Rebuild(features []Feature, baseAudio map[string]string) {
	snap := &Snapshot{
		features:     make(map[string]*Feature, len(features)),
		toolDecls:    make(map[string]Declaration),
		toolConfigs:  make(map[string]*ToolConfig),
		actionIntent: make(map[string]string),
		audio:        make(map[string]string, len(baseAudio)),
		uiActions:    make(map[string]struct{}),
	}

	for action, intent := range systemActions {
		snap.actionIntent[action] = intent
		snap.uiActions[action] = struct{}{}
	}
	for k, v := range baseAudio {
		snap.audio[k] = v
	}

	for i := range features {
		f := features[i]
		snap.features[f.FeatureName] = &f
		for j := range f.Tools {
			t := f.Tools[j]
			snap.toolDecls[t.Name] = t.Declaration
			snap.toolConfigs[t.Name] = &t
		}
		for _, a := range f.Actions {
			snap.actionIntent[a.UIAction] = a.Intent
			snap.uiActions[a.UIAction] = struct{}{}
		}
		for k, v := range f.AudioMappings {
			snap.audio[k] = v
		}
	}

	r.snap.Store(snap)
	r.logger.Info("registry rebuilt",
		"features", len(snap.features),
		"tools", len(snap.toolConfigs),
		"ui_actions", len(snap.uiActions))
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot { return r.snap.Load() }

// Convenience getters delegating to the current snapshot.

func (r *Registry) GetFeature(name string) (*Feature, bool) { return r.Snapshot().GetFeature(name) }

func (r *Registry) GetToolConfig(name string) (*ToolConfig, bool) {
	return r.Snapshot().GetToolConfig(name)
}

func (r *Registry) GetIntentForAction(action string) string {
	return r.Snapshot().GetIntentForAction(action)
}

func (r *Registry) GetAudio(key string) (string, bool) { return r.Snapshot().GetAudio(key) }

// GetFeature returns the feature registered under name.
func (s *Snapshot) GetFeature(name string) (*Feature, bool) {
	f, ok := s.features[name]
	return f, ok
}

// GetToolDeclaration returns the declaration for a tool name.
func (s *Snapshot) GetToolDeclaration(name string) (Declaration, bool) {
	d, ok := s.toolDecls[name]
	return d, ok
}

// GetToolConfig returns the full config for a tool name.
func (s *Snapshot) GetToolConfig(name string) (*ToolConfig, bool) {
	t, ok := s.toolConfigs[name]
	return t, ok
}

// GetIntentForAction maps a UI action to its public intent, defaulting to
// DefaultIntent for unmapped actions.
func (s *Snapshot) GetIntentForAction(action string) string {
	if intent, ok := s.actionIntent[action]; ok {
		return intent
	}
	return DefaultIntent
}

// GetAudio returns the audio URL registered under key.
func (s *Snapshot) GetAudio(key string) (string, bool) {
	url, ok := s.audio[key]
	return url, ok
}

// AllUIActions returns the set of every known UI action.
func (s *Snapshot) AllUIActions() []string {
	out := make([]string, 0, len(s.uiActions))
	for a := range s.uiActions {
		out = append(out, a)
	}
	return out
}

// Features returns all registered features.
func (s *Snapshot) Features() []*Feature {
	out := make([]*Feature, 0, len(s.features))
	for _, f := range s.features {
		out = append(out, f)
	}
	return out
}
