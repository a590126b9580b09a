package tools

import "testing"

// --- getString ---

func TestGetString(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
		wantOK bool
	}{
		{"present", map[string]any{"q": "Rome"}, "Rome", true},
		{"empty string", map[string]any{"q": ""}, "", true},
		{"missing", map[string]any{}, "", false},
		{"wrong type", map[string]any{"q": 12}, "", false},
		{"nil map", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := getString(tt.params, "q")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("getString() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// --- truncate ---

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
