package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the outcome of one tool invocation.
type Result struct {
	Status  Status
	Payload json.RawMessage
}

// JSON is the text handed to the dialect's result envelope.
func (r Result) JSON() string {
	return string(r.Payload)
}

// Message returns the error message of an error result.
func (r Result) Message() string {
	if r.Status != StatusError {
		return ""
	}
	return gjson.GetBytes(r.Payload, "message").String()
}

// ErrorResult builds {"status":"error","message":msg}.
func ErrorResult(msg string) Result {
	b, _ := sjson.SetBytes([]byte(`{"status":"error"}`), "message", msg) // constant document, cannot fail
	return Result{Status: StatusError, Payload: b}
}

// Call is a parsed request to run one tool.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Func is a tool implementation. Returned JSON must be valid.
type Func func(ctx context.Context, args map[string]any) (json.RawMessage, error)

// Dispatcher maps call names onto tool implementations.
type Dispatcher struct {
	catalog *Catalog
	table   map[string]Func
	logger  *slog.Logger
}

// NewDispatcher checks that every catalog entry has an implementation and
// that no implementation is missing from the catalog.
func NewDispatcher(catalog *Catalog, table map[string]Func, logger *slog.Logger) (*Dispatcher, error) {
	for _, name := range catalog.Names() {
		if table[name] == nil {
			return nil, fmt.Errorf("tool %q has no implementation", name)
		}
	}
	for name := range table {
		if _, ok := catalog.Lookup(name); !ok {
			return nil, fmt.Errorf("implementation %q is not in the catalog", name)
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{catalog: catalog, table: table, logger: logger}, nil
}

// Invoke runs the named tool. It never fails: unknown names, invalid
// arguments, tool errors and panics all come back as error results.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = ErrorResult(fmt.Sprintf("tool %s panicked: %v", call.Name, r))
		}
		elapsed := time.Since(start).Round(time.Millisecond)
		if res.Status == StatusError {
			d.logger.Warn("tool call failed", "tool", call.Name, "duration", elapsed, "error", res.Message())
			return
		}
		d.logger.Info("tool call", "tool", call.Name, "duration", elapsed, "result", truncate(res.JSON(), 200))
	}()

	fn, ok := d.table[call.Name]
	desc, known := d.catalog.Lookup(call.Name)
	if !ok || !known {
		return ErrorResult("Unknown function " + call.Name)
	}
	if missing := missingArgs(desc, call.Arguments); len(missing) > 0 {
		return ErrorResult(fmt.Sprintf("missing required argument(s) for %s: %s", call.Name, strings.Join(missing, ", ")))
	}

	payload, err := fn(ctx, call.Arguments)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "tool " + call.Name + " failed"
		}
		return ErrorResult(msg)
	}
	if !gjson.ValidBytes(payload) {
		return ErrorResult("tool " + call.Name + " returned invalid JSON")
	}
	return Result{Status: StatusSuccess, Payload: payload}
}

func missingArgs(desc Descriptor, args map[string]any) []string {
	var missing []string
	for _, name := range desc.Required() {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
