package tools

import (
	"log/slog"
	"time"
)

// Options configures the two built-in tools.
type Options struct {
	WikipediaAPIURL string
	SPARQLEndpoint  string
	SPARQLMaxBytes  int
	Timeout         time.Duration
}

// Default builds the catalog and dispatcher for the built-in tools.
func Default(opts Options, logger *slog.Logger) (*Catalog, *Dispatcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	wiki := NewWikipedia(opts.WikipediaAPIURL, opts.Timeout)
	sparql := NewSPARQL(opts.SPARQLEndpoint, opts.SPARQLMaxBytes, opts.Timeout)

	catalog, err := NewCatalog(WikipediaDescriptor, SPARQLDescriptor)
	if err != nil {
		return nil, nil, err
	}
	dispatcher, err := NewDispatcher(catalog, map[string]Func{
		WikipediaToolName: wiki.Call,
		SPARQLToolName:    sparql.Call,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return catalog, dispatcher, nil
}
