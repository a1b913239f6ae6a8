package tool

import "testing"

func TestExpand(t *testing.T) {
	args := map[string]any{
		"city":  "Delhi",
		"limit": float64(50),
		"rate":  float64(2.5),
		"flag":  true,
		"gone":  nil,
	}
	getenv := func(name string) string {
		if name == "API_KEY" {
			return "secret"
		}
		return ""
	}
	lookup := argEnvLookup(args, getenv)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "no tokens here", "no tokens here"},
		{"arg", "https://x/search?city={{city}}", "https://x/search?city=Delhi"},
		{"arg with spaces", "{{ city }}", "Delhi"},
		{"integer number", "limit={{limit}}", "limit=50"},
		{"fractional number", "rate={{rate}}", "rate=2.5"},
		{"bool", "flag={{flag}}", "flag=true"},
		{"nil arg", "v={{gone}}.", "v=."},
		{"env", "Bearer {{ENV.API_KEY}}", "Bearer secret"},
		{"unset env", "Bearer {{ENV.MISSING}}", "Bearer "},
		{"unknown key", "a{{nope}}b", "ab"},
		{"unclosed token", "a{{cityb", "a{{cityb"},
		{"adjacent tokens", "{{city}}{{city}}", "DelhiDelhi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expand(tt.in, lookup); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractPath(t *testing.T) {
	doc := map[string]any{
		"data": map[string]any{
			"results": []any{
				map[string]any{"name": "first"},
				map[string]any{"name": "second"},
			},
			"total": float64(2),
		},
	}

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{"empty path returns root", "", doc, true},
		{"nested map", "data.total", float64(2), true},
		{"array index", "data.results.1.name", "second", true},
		{"missing key", "data.nope", nil, false},
		{"index out of range", "data.results.5", nil, false},
		{"non-numeric index", "data.results.x", nil, false},
		{"descend into scalar", "data.total.more", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractPath(doc, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("extractPath(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if tt.path == "" {
				return
			}
			if ok && got != tt.want {
				t.Errorf("extractPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
