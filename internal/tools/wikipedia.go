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
)

const (
	WikipediaToolName      = "fetch_wikipedia_content"
	DefaultWikipediaAPIURL = "https://en.wikipedia.org/w/api.php"
	userAgent              = "wikichat/1.0 (https://github.com/chris/wikichat)"
)

type WikipediaInput struct {
	SearchQuery string `json:"search_query" jsonschema_description:"Search query for finding the Wikipedia article"`
}

// ArticleSummary is the tool's reply. A missing article is reported with
// status "error" and a message, not as a failed call.
type ArticleSummary struct {
	Status  string `json:"status"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Wikipedia looks up the introduction of the most relevant article.
type Wikipedia struct {
	APIURL string
	http   *http.Client
}

func NewWikipedia(apiURL string, timeout time.Duration) *Wikipedia {
	if apiURL == "" {
		apiURL = DefaultWikipediaAPIURL
	}
	return &Wikipedia{APIURL: apiURL, http: &http.Client{Timeout: timeout}}
}

var WikipediaDescriptor = Descriptor{
	Name: WikipediaToolName,
	Description: "Search Wikipedia and fetch the introduction of the most relevant article. " +
		"Always use this if the user is asking for something that is likely on wikipedia. " +
		"If the user has a typo in their search query, correct it before searching.",
	Parameters: GenerateSchema[WikipediaInput](),
	Result: objReq(map[string]any{
		"status":  prop("string", "success or error"),
		"title":   prop("string", "Normalized article title"),
		"content": prop("string", "Plain-text introduction of the article"),
		"message": prop("string", "Error description when status is error"),
	}, "status"),
}

// Call adapts FetchArticleSummary to the dispatcher.
func (w *Wikipedia) Call(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	query, ok := getString(args, "search_query")
	if !ok || strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search_query must be a non-empty string")
	}
	summary, err := w.FetchArticleSummary(ctx, query)
	if err != nil {
		return nil, err
	}
	return json.Marshal(summary)
}

// FetchArticleSummary searches for the best match, then fetches its intro.
func (w *Wikipedia) FetchArticleSummary(ctx context.Context, query string) (ArticleSummary, error) {
	search, err := w.get(ctx, url.Values{
		"action":   {"query"},
		"format":   {"json"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"1"},
	})
	if err != nil {
		return ArticleSummary{}, fmt.Errorf("wikipedia search: %w", err)
	}
	title := gjson.GetBytes(search, "query.search.0.title").String()
	if title == "" {
		return notFound(query), nil
	}

	page, err := w.get(ctx, url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"titles":      {title},
		"prop":        {"extracts"},
		"exintro":     {"true"},
		"explaintext": {"true"},
		"redirects":   {"1"},
	})
	if err != nil {
		return ArticleSummary{}, fmt.Errorf("wikipedia extract: %w", err)
	}

	var summary ArticleSummary
	found := false
	gjson.GetBytes(page, "query.pages").ForEach(func(key, value gjson.Result) bool {
		if key.String() == "-1" || value.Get("missing").Exists() {
			return false
		}
		found = true
		summary = ArticleSummary{
			Status:  "success",
			Title:   value.Get("title").String(),
			Content: strings.TrimSpace(value.Get("extract").String()),
		}
		return false
	})
	if !found {
		return notFound(query), nil
	}
	return summary, nil
}

func notFound(query string) ArticleSummary {
	return ArticleSummary{Status: "error", Message: fmt.Sprintf("No Wikipedia article found for '%s'", query)}
}

func (w *Wikipedia) get(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", w.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not JSON: %s", truncate(string(body), 200))
	}
	return body, nil
}
