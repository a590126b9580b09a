package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	SPARQLToolName         = "execute_sparql"
	DefaultSPARQLEndpoint  = "https://query.wikidata.org/sparql"
	DefaultSPARQLMaxBytes  = 16 * 1024
	sparqlResultsMediaType = "application/sparql-results+json"
)

type SPARQLInput struct {
	Query string `json:"query" jsonschema_description:"A complete SPARQL query. Wikidata prefixes (wd:, wdt:, rdfs:, schema:) are predeclared."`
}

var SPARQLDescriptor = Descriptor{
	Name: SPARQLToolName,
	Description: "Run a SPARQL query against the Wikidata query service and return the results. " +
		"Use this for structured facts such as dates, populations, or lists of entities. " +
		"Always add a LIMIT clause.",
	Parameters: GenerateSchema[SPARQLInput](),
	Result: obj(map[string]any{
		"head":      map[string]any{"type": "object", "description": "Result variables"},
		"results":   map[string]any{"type": "object", "description": "Bindings, one per row"},
		"boolean":   prop("boolean", "Answer of an ASK query"),
		"truncated": prop("boolean", "Set when rows were dropped to fit the size cap"),
	}),
}

// SPARQL runs queries against a SPARQL 1.1 protocol endpoint.
type SPARQL struct {
	Endpoint string
	MaxBytes int
	http     *http.Client
}

func NewSPARQL(endpoint string, maxBytes int, timeout time.Duration) *SPARQL {
	if endpoint == "" {
		endpoint = DefaultSPARQLEndpoint
	}
	if maxBytes <= 0 {
		maxBytes = DefaultSPARQLMaxBytes
	}
	return &SPARQL{Endpoint: endpoint, MaxBytes: maxBytes, http: &http.Client{Timeout: timeout}}
}

// Call adapts ExecuteQuery to the dispatcher.
func (s *SPARQL) Call(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	query, ok := getString(args, "query")
	if !ok || strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must be a non-empty string")
	}
	return s.ExecuteQuery(ctx, query)
}

// ExecuteQuery returns the endpoint's standard results document, with
// bindings dropped from the end when it exceeds MaxBytes.
func (s *SPARQL) ExecuteQuery(ctx context.Context, query string) (json.RawMessage, error) {
	u := s.Endpoint + "?" + url.Values{"query": {query}, "format": {"json"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", sparqlResultsMediaType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparql request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		// Endpoints put the parser message in the body.
		return nil, fmt.Errorf("sparql endpoint returned HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 300))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("sparql endpoint returned non-JSON content")
	}
	if len(body) <= s.MaxBytes {
		return body, nil
	}
	return capBindings(body, s.MaxBytes)
}

// capBindings keeps the leading bindings that fit within maxBytes.
func capBindings(body []byte, maxBytes int) (json.RawMessage, error) {
	bindings := gjson.GetBytes(body, "results.bindings")
	if !bindings.IsArray() {
		return nil, fmt.Errorf("sparql result of %d bytes exceeds the %d byte cap", len(body), maxBytes)
	}
	base, err := sjson.SetRawBytes(body, "results.bindings", []byte("[]"))
	if err != nil {
		return nil, fmt.Errorf("truncating results: %w", err)
	}
	base, err = sjson.SetBytes(base, "truncated", true)
	if err != nil {
		return nil, fmt.Errorf("truncating results: %w", err)
	}

	var kept []string
	size := len(base)
	for _, b := range bindings.Array() {
		next := size + len(b.Raw)
		if len(kept) > 0 {
			next++ // comma
		}
		if next > maxBytes {
			break
		}
		kept = append(kept, b.Raw)
		size = next
	}
	return sjson.SetRawBytes(base, "results.bindings", []byte("["+strings.Join(kept, ",")+"]"))
}
