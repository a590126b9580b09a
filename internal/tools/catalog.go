package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Descriptor describes one callable function.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`       // JSON Schema
	Result      map[string]any `json:"result,omitempty"` // JSON Schema, informational
}

// Style selects how a catalog entry is rendered into a system prompt.
type Style string

const (
	// StyleOpenAI wraps each tool as {"type":"function","function":{...}}.
	StyleOpenAI Style = "openai"
	// StylePlain renders {"name","description","parameters"} directly.
	StylePlain Style = "plain"
)

// Catalog is the fixed set of tools offered to the model.
type Catalog struct {
	descs []Descriptor
	index map[string]int
}

// NewCatalog validates the descriptors. A malformed descriptor is a
// configuration error and callers are expected to treat it as fatal.
func NewCatalog(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(descs))}
	for i, d := range descs {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("tool %d (%q): %w", i, d.Name, err)
		}
		if _, dup := c.index[d.Name]; dup {
			return nil, fmt.Errorf("tool %q: duplicate name", d.Name)
		}
		c.index[d.Name] = len(c.descs)
		c.descs = append(c.descs, d)
	}
	return c, nil
}

func validate(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(d.Name, " \t\n\"") {
		return fmt.Errorf("name must not contain whitespace or quotes")
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if d.Parameters == nil {
		return fmt.Errorf("parameter schema is required")
	}
	if typ, _ := d.Parameters["type"].(string); typ != "object" {
		return fmt.Errorf("parameter schema type must be \"object\", got %v", d.Parameters["type"])
	}
	if _, ok := d.Parameters["properties"].(map[string]any); !ok {
		return fmt.Errorf("parameter schema needs a properties object")
	}
	if _, err := json.Marshal(d.Parameters); err != nil {
		return fmt.Errorf("parameter schema is not serializable: %w", err)
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	i, ok := c.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.descs[i], true
}

// Names lists tool names in registration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.descs))
	for i, d := range c.descs {
		names[i] = d.Name
	}
	return names
}

type openAIEntry struct {
	Type     string     `json:"type"`
	Function plainEntry `json:"function"`
}

type plainEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Serialize renders one indented JSON object per tool, separated by blank lines.
func (c *Catalog) Serialize(style Style) string {
	parts := make([]string, 0, len(c.descs))
	for _, d := range c.descs {
		entry := plainEntry{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
		var v any = entry
		if style != StylePlain {
			v = openAIEntry{Type: "function", Function: entry}
		}
		b, _ := json.MarshalIndent(v, "", "  ") // validated at construction
		parts = append(parts, string(b))
	}
	return strings.Join(parts, "\n\n")
}

// Required returns the required parameter names of a descriptor's schema.
func (d Descriptor) Required() []string {
	switch req := d.Parameters["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
