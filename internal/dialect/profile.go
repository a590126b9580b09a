// Package dialect adapts prompt-based tool calling to the textual
// conventions of each open-weight model family.
//
// A Profile is pure data: envelope markers, prompt template, result role.
// Detection, normalization and formatting are shared routines driven by
// those fields, so supporting a new family means adding a registry entry.
package dialect

import (
	"regexp"
	"strings"
	"text/template"

	"github.com/chris/wikichat/internal/conversation"
	"github.com/chris/wikichat/internal/tools"
)

// Profile describes one model family's tool-calling dialect.
type Profile struct {
	ID       string
	Prefixes []string // lower-case model id prefixes

	Template     string
	CatalogStyle tools.Style

	CallOpen     string
	CallClose    string
	CallPadding  string // placed inside the envelope around the JSON body
	ArgumentsKey string // key the prompt teaches: "arguments" or "parameters"
	NameFirst    bool   // key order the prompt teaches

	// LeadingMarkers are control tokens some models put before a call.
	LeadingMarkers []string
	// EndMarkers are stop tokens that may leak after an unterminated call.
	EndMarkers []string

	ReasoningOpen  string
	ReasoningClose string

	ResultOpen  string
	ResultClose string
	ResultRole  string

	tmpl      *template.Template
	reasoning *regexp.Regexp
}

// ParsedCall is a tool request extracted from model output.
type ParsedCall = tools.Call

const DefaultProfileID = "hermes"

var registry = []*Profile{
	mustCompile(&Profile{
		ID:             "qwen3",
		Prefixes:       []string{"qwen3", "qwq", "deepseek-r1"},
		Template:       hermesStyleTemplate,
		CatalogStyle:   tools.StyleOpenAI,
		CallOpen:       "<tool_call>",
		CallClose:      "</tool_call>",
		CallPadding:    "\n",
		ArgumentsKey:   "arguments",
		NameFirst:      true,
		ReasoningOpen:  "<think>",
		ReasoningClose: "</think>",
		ResultOpen:     "<tool_response>\n",
		ResultClose:    "\n</tool_response>",
		ResultRole:     conversation.RoleTool,
	}),
	mustCompile(&Profile{
		ID:           "qwen2",
		Prefixes:     []string{"qwen2"},
		Template:     qwen2Template,
		CatalogStyle: tools.StyleOpenAI,
		CallOpen:     "<tool_call>",
		CallClose:    "</tool_call>",
		CallPadding:  "\n",
		ArgumentsKey: "arguments",
		NameFirst:    true,
		ResultOpen:   "<tool_response>",
		ResultClose:  "</tool_response>",
		// Qwen2 chat templates expect tool responses in a user turn.
		ResultRole: conversation.RoleUser,
	}),
	mustCompile(&Profile{
		ID:             "llama3",
		Prefixes:       []string{"llama-3.1", "llama-3.2", "llama-3.3", "meta-llama-3.1", "llama3.1", "llama3.2", "llama3.3"},
		Template:       llama3Template,
		CatalogStyle:   tools.StylePlain,
		CallOpen:       "<function>",
		CallClose:      "</function>",
		ArgumentsKey:   "parameters",
		NameFirst:      true,
		LeadingMarkers: []string{"<|python_tag|>"},
		EndMarkers:     []string{"<|eom_id|>", "<|eot_id|>"},
		ResultRole:     conversation.RoleIPython,
	}),
	mustCompile(&Profile{
		ID:           DefaultProfileID,
		Prefixes:     []string{"hermes", "nous-hermes"},
		Template:     hermesTemplate,
		CatalogStyle: tools.StyleOpenAI,
		CallOpen:     "<tool_call>",
		CallClose:    "</tool_call>",
		CallPadding:  "\n",
		ArgumentsKey: "arguments",
		NameFirst:    false,
		ResultOpen:   "<tool_response>\n",
		ResultClose:  "\n</tool_response>",
		ResultRole:   conversation.RoleTool,
	}),
}

// mustCompile prepares a registry entry. Template errors surface at startup.
func mustCompile(p *Profile) *Profile {
	p.tmpl = template.Must(template.New(p.ID).Parse(p.Template))
	if p.ReasoningOpen != "" {
		p.reasoning = regexp.MustCompile(`^\s*` + regexp.QuoteMeta(p.ReasoningOpen) +
			`(?s:(.*?))` + regexp.QuoteMeta(p.ReasoningClose) + `\s*`)
	}
	return p
}

// Select picks the profile for a model id. It matches the lower-cased id,
// and the part after the last "/", against each entry's prefixes in
// registry order. Unknown models get the default profile.
func Select(modelID string) *Profile {
	id := strings.ToLower(strings.TrimSpace(modelID))
	base := id
	if i := strings.LastIndex(id, "/"); i >= 0 {
		base = id[i+1:]
	}
	for _, p := range registry {
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(id, prefix) || strings.HasPrefix(base, prefix) {
				return p
			}
		}
	}
	return Default()
}

// Lookup returns the profile with the given id.
func Lookup(id string) (*Profile, bool) {
	for _, p := range registry {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func Default() *Profile {
	p, _ := Lookup(DefaultProfileID)
	return p
}

// Profiles lists the registry in match order.
func Profiles() []*Profile {
	out := make([]*Profile, len(registry))
	copy(out, registry)
	return out
}
