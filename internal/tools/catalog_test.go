package tools

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewCatalog_Builtins(t *testing.T) {
	c, err := NewCatalog(WikipediaDescriptor, SPARQLDescriptor)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if got := c.Names(); len(got) != 2 || got[0] != WikipediaToolName || got[1] != SPARQLToolName {
		t.Errorf("Names() = %v", got)
	}
	d, ok := c.Lookup(WikipediaToolName)
	if !ok {
		t.Fatal("wikipedia tool missing")
	}
	req := d.Required()
	if len(req) != 1 || req[0] != "search_query" {
		t.Errorf("required = %v, want [search_query]", req)
	}
	props, _ := d.Parameters["properties"].(map[string]any)
	if _, ok := props["search_query"]; !ok {
		t.Errorf("reflected schema lacks search_query: %v", d.Parameters)
	}
	if _, ok := d.Parameters["$schema"]; ok {
		t.Error("$schema should be stripped from reflected schemas")
	}
}

func TestNewCatalog_Invalid(t *testing.T) {
	valid := Descriptor{Name: "ok", Description: "fine", Parameters: obj(nil)}
	tests := []struct {
		name  string
		descs []Descriptor
		want  string
	}{
		{"empty name", []Descriptor{{Description: "d", Parameters: obj(nil)}}, "name is required"},
		{"space in name", []Descriptor{{Name: "a b", Description: "d", Parameters: obj(nil)}}, "whitespace"},
		{"no description", []Descriptor{{Name: "a", Parameters: obj(nil)}}, "description is required"},
		{"no schema", []Descriptor{{Name: "a", Description: "d"}}, "schema is required"},
		{"non-object schema", []Descriptor{{Name: "a", Description: "d", Parameters: map[string]any{"type": "string"}}}, "must be \"object\""},
		{"no properties", []Descriptor{{Name: "a", Description: "d", Parameters: map[string]any{"type": "object"}}}, "properties"},
		{"duplicate", []Descriptor{valid, valid}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.descs...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSerialize_Styles(t *testing.T) {
	c, err := NewCatalog(
		Descriptor{Name: "a", Description: "first", Parameters: objReq(map[string]any{"x": prop("string", "x")}, "x")},
		Descriptor{Name: "b", Description: "second", Parameters: obj(nil)},
	)
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(c.Serialize(StyleOpenAI), "\n\n")
	if len(parts) != 2 {
		t.Fatalf("expected 2 blank-line separated entries, got %d", len(parts))
	}
	var entry struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal([]byte(parts[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if entry.Type != "function" || entry.Function.Name != "a" {
		t.Errorf("unexpected openai entry: %+v", entry)
	}

	plain := strings.Split(c.Serialize(StylePlain), "\n\n")
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(plain[1]), &p); err != nil {
		t.Fatalf("plain entry is not JSON: %v", err)
	}
	if p.Name != "b" {
		t.Errorf("plain entry name = %q, want b", p.Name)
	}
}
