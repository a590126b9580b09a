package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chris/wikichat/internal/conversation"
)

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"qwen2.5:7b","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`, content)
}

const finalChunk = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"qwen2.5:7b","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`

const usageChunk = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"qwen2.5:7b","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15},"timings":{"prompt_per_second":120.5,"predicted_per_second":20.25}}`

func writeEvents(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
		flusher.Flush()
	}
}

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIGenerator("", srv.URL+"/v1/", nil)
}

func TestOpenAIGenerator_Complete(t *testing.T) {
	var body []byte
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ = io.ReadAll(r.Body)
		writeEvents(w, chunk("Rome "), chunk("is "), chunk("old."), finalChunk, usageChunk, "[DONE]")
	})

	ctx := context.Background()
	if err := g.Reload(ctx, "qwen2.5:7b", GenerationConfig{Temperature: 0.2, TopP: 0.9, MaxTokens: 256}); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	turns := []conversation.Turn{
		{Role: conversation.RoleSystem, Content: "sys"},
		{Role: conversation.RoleUser, Content: "tell me about Rome"},
		{Role: conversation.RoleAssistant, Content: "<tool_call>{}</tool_call>", CallID: 1},
		{Role: conversation.RoleTool, Content: "<tool_response>{}</tool_response>", CallID: 1},
	}
	var deltas []string
	got, err := g.Complete(ctx, turns, func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if got.Message != "Rome is old." {
		t.Errorf("message = %q", got.Message)
	}
	if strings.Join(deltas, "|") != "Rome |is |old." {
		t.Errorf("deltas = %q", deltas)
	}
	if got.FinishReason != "stop" {
		t.Errorf("finish reason = %q", got.FinishReason)
	}
	if got.Usage.PromptTokens != 12 || got.Usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", got.Usage)
	}
	if got.Usage.PrefillTokensPerSec != 120.5 || got.Usage.DecodeTokensPerSec != 20.25 {
		t.Errorf("throughput = %+v", got.Usage)
	}

	req := gjson.ParseBytes(body)
	if req.Get("model").String() != "qwen2.5:7b" {
		t.Errorf("model = %s", req.Get("model"))
	}
	if !req.Get("stream").Bool() || !req.Get("stream_options.include_usage").Bool() {
		t.Errorf("streaming with usage not requested: %s", body)
	}
	if req.Get("tools").Exists() {
		t.Error("tools must not be sent natively")
	}
	if req.Get("max_tokens").Int() != 256 {
		t.Errorf("max_tokens = %s", req.Get("max_tokens"))
	}
	roles := req.Get("messages.#.role").Array()
	want := []string{"system", "user", "assistant", "tool"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for i, r := range roles {
		if r.String() != want[i] {
			t.Errorf("messages[%d].role = %s, want %s", i, r, want[i])
		}
	}
	if id := req.Get("messages.3.tool_call_id").String(); id != "1" {
		t.Errorf("tool_call_id = %q, want 1", id)
	}
}

func TestOpenAIGenerator_Interrupt(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, chunk("partial"))
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	ctx := context.Background()
	if err := g.Reload(ctx, "m", GenerationConfig{}); err != nil {
		t.Fatal(err)
	}

	got, err := g.Complete(ctx, []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}}, func(string) {
		g.Interrupt()
	})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if got.Message != "partial" {
		t.Errorf("partial message = %q", got.Message)
	}

	// A stray interrupt with nothing in flight is harmless.
	g.Interrupt()
}

func TestOpenAIGenerator_ConcurrentCompletions(t *testing.T) {
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		who := gjson.GetBytes(body, "messages.0.content").String()
		writeEvents(w, chunk(who))
		arrived <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		writeEvents(w, chunk(" ok"), finalChunk, "[DONE]")
	})
	ctx := context.Background()
	if err := g.Reload(ctx, "m", GenerationConfig{}); err != nil {
		t.Fatal(err)
	}

	type result struct {
		c   Completion
		err error
	}
	run := func(ctx context.Context, who string, out chan<- result) {
		c, err := g.Complete(ctx, []conversation.Turn{{Role: conversation.RoleUser, Content: who}}, nil)
		out <- result{c, err}
	}
	aCtx, cancelA := context.WithCancel(ctx)
	defer cancelA()
	aDone := make(chan result, 1)
	bDone := make(chan result, 1)
	go run(aCtx, "a", aDone)
	go run(ctx, "b", bDone)

	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 2 requests arrived", i)
		}
	}

	cancelA()
	ra := <-aDone
	if !errors.Is(ra.err, ErrInterrupted) || ra.c.Message != "a" {
		t.Errorf("a = %q, %v; want partial text and ErrInterrupted", ra.c.Message, ra.err)
	}

	close(release)
	rb := <-bDone
	if rb.err != nil || rb.c.Message != "b ok" {
		t.Errorf("b = %q, %v", rb.c.Message, rb.err)
	}
}

func TestOpenAIGenerator_CompleteWithoutModel(t *testing.T) {
	g := NewOpenAIGenerator("", "http://127.0.0.1:1/v1/", nil)
	if _, err := g.Complete(context.Background(), nil, nil); err == nil {
		t.Error("expected error before a model is loaded")
	}
}

func TestOpenAIGenerator_ReloadVerifies(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models/qwen3:8b" {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"qwen3:8b","object":"model","created":1,"owned_by":"library"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"message":"model not found","type":"invalid_request_error"}}`)
	})

	ctx := context.Background()
	if err := g.Reload(ctx, "qwen3:8b", GenerationConfig{VerifyModel: true}); err != nil {
		t.Errorf("Reload known model: %v", err)
	}
	if g.Model() != "qwen3:8b" {
		t.Errorf("model = %q", g.Model())
	}
	if err := g.Reload(ctx, "missing", GenerationConfig{VerifyModel: true}); err == nil {
		t.Error("expected error for unknown model")
	}
	if g.Model() != "qwen3:8b" {
		t.Error("failed reload must keep the previous model")
	}
	if err := g.Reload(ctx, " ", GenerationConfig{}); err == nil {
		t.Error("expected error for empty model id")
	}
}

func TestOpenAIGenerator_ListModels(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[
			{"id":"qwen3:8b","object":"model","created":1,"owned_by":"library"},
			{"id":"llama3.1:8b","object":"model","created":1,"owned_by":"library"}
		]}`)
	})

	ids, err := g.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(ids, ",") != "llama3.1:8b,qwen3:8b" {
		t.Errorf("ids = %v", ids)
	}
}

func TestThroughput_WallClock(t *testing.T) {
	start := time.Unix(0, 0)
	first := start.Add(500 * time.Millisecond)
	end := first.Add(2 * time.Second)
	prefill, decode := throughput(Usage{PromptTokens: 100, CompletionTokens: 40}, start, first, end, gjson.Result{})
	if prefill != 200 || decode != 20 {
		t.Errorf("throughput = %v, %v; want 200, 20", prefill, decode)
	}
	if p, d := throughput(Usage{PromptTokens: 1}, start, time.Time{}, end, gjson.Result{}); p != 0 || d != 0 {
		t.Errorf("no tokens streamed should report zero, got %v, %v", p, d)
	}
}
