package dialect

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

type Reason string

const (
	MalformedJSON    Reason = "malformed-json"
	MissingName      Reason = "missing-name"
	MissingArguments Reason = "missing-arguments"
)

// ParseError reports a detected call that could not be parsed. It is
// recoverable: callers treat the message as text or feed the error back.
type ParseError struct {
	Reason Reason
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid tool call: %s", e.Reason)
}

// Normalize extracts the call from a detected envelope. "parameters" is
// accepted as a synonym for "arguments", and arguments given as a JSON
// string holding an object are decoded.
func (p *Profile) Normalize(raw string) (ParsedCall, error) {
	body := p.stripLeadingMarkers(strings.TrimSpace(raw))
	for strings.HasPrefix(body, p.CallOpen) {
		body = p.stripLeadingMarkers(strings.TrimSpace(strings.TrimPrefix(body, p.CallOpen)))
	}
	if i := strings.Index(body, p.CallClose); i >= 0 {
		body = body[:i]
	}
	body = stripFence(p.stripEndMarkers(body))

	if !gjson.Valid(body) {
		return ParsedCall{}, &ParseError{Reason: MalformedJSON, Raw: raw}
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return ParsedCall{}, &ParseError{Reason: MalformedJSON, Raw: raw}
	}

	name := doc.Get("name")
	if name.Type != gjson.String || strings.TrimSpace(name.String()) == "" {
		return ParsedCall{}, &ParseError{Reason: MissingName, Raw: raw}
	}

	args := doc.Get("arguments")
	if !args.Exists() {
		args = doc.Get("parameters")
	}
	if args.Type == gjson.String && gjson.Valid(args.String()) {
		args = gjson.Parse(args.String())
	}
	if !args.IsObject() {
		return ParsedCall{}, &ParseError{Reason: MissingArguments, Raw: raw}
	}
	m, _ := args.Value().(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return ParsedCall{Name: strings.TrimSpace(name.String()), Arguments: m}, nil
}

// stripFence removes a markdown code fence around the JSON body.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
