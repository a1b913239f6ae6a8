package feature

import (
	"errors"
	"testing"
)

func validFeature() Feature {
	return Feature{
		FeatureName:   "find_duties",
		Desc:          "search open trips",
		Actions:       []Action{{UIAction: "show_duties", Intent: "get_duties"}},
		DefaultAction: "show_duties",
	}
}

func TestFeatureValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Feature)
		wantErr error
	}{
		{"valid", func(f *Feature) {}, nil},
		{"missing name", func(f *Feature) { f.FeatureName = "" }, ErrMissingName},
		{"missing desc", func(f *Feature) { f.Desc = "" }, ErrMissingDesc},
		{"default not in actions", func(f *Feature) { f.DefaultAction = "show_end" }, ErrDefaultActionMissing},
		{
			"bad tool propagates",
			func(f *Feature) {
				f.Tools = []ToolConfig{{Name: "broken", Kind: KindStatic}}
			},
			ErrToolVariant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFeature()
			tt.mutate(&f)
			err := f.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ToolConfig
		wantErr error
	}{
		{
			"static ok",
			ToolConfig{Name: "t", Kind: KindStatic, Static: &StaticImpl{Response: "hi"}},
			nil,
		},
		{
			"builtin ok",
			ToolConfig{Name: "t", Kind: KindBuiltin, Builtin: &BuiltinImpl{Handler: "verifyAadhaarOTP"}},
			nil,
		},
		{
			"http ok",
			ToolConfig{Name: "t", Kind: KindHTTP, HTTP: &HTTPImpl{URL: "https://x", Method: "GET"}},
			nil,
		},
		{
			"no variant",
			ToolConfig{Name: "t", Kind: KindStatic},
			ErrToolVariant,
		},
		{
			"two variants",
			ToolConfig{
				Name: "t", Kind: KindStatic,
				Static:  &StaticImpl{Response: "hi"},
				Builtin: &BuiltinImpl{Handler: "h"},
			},
			ErrToolVariant,
		},
		{
			"http missing method",
			ToolConfig{Name: "t", Kind: KindHTTP, HTTP: &HTTPImpl{URL: "https://x"}},
			ErrHTTPToolIncomplete,
		},
		{
			"static empty response",
			ToolConfig{Name: "t", Kind: KindStatic, Static: &StaticImpl{}},
			ErrStaticToolEmpty,
		},
		{
			"builtin empty handler",
			ToolConfig{Name: "t", Kind: KindBuiltin, Builtin: &BuiltinImpl{}},
			ErrBuiltinToolEmpty,
		},
		{
			"unknown kind",
			ToolConfig{Name: "t", Kind: "magic", Static: &StaticImpl{Response: "hi"}},
			ErrToolVariant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
