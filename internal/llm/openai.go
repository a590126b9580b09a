package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/chris/wikichat/internal/conversation"
)

// OpenAIGenerator talks to any OpenAI-compatible chat completions server
// (Ollama, llama.cpp, vLLM, MLC serve).
type OpenAIGenerator struct {
	client openai.Client
	logger *slog.Logger

	mu       sync.Mutex
	model    string
	cfg      GenerationConfig
	inflight map[int]context.CancelFunc
	nextID   int
}

func NewOpenAIGenerator(apiKey, baseURL string, logger *slog.Logger) *OpenAIGenerator {
	var opts []option.RequestOption
	if apiKey == "" {
		// Local servers ignore the key but the client insists on one.
		apiKey = "local"
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OpenAIGenerator{
		client:   openai.NewClient(opts...),
		logger:   logger,
		inflight: map[int]context.CancelFunc{},
	}
}

// Reload switches the active model. With VerifyModel set the server must
// know the id.
func (g *OpenAIGenerator) Reload(ctx context.Context, modelID string, cfg GenerationConfig) error {
	if strings.TrimSpace(modelID) == "" {
		return errors.New("model id is required")
	}
	if cfg.VerifyModel {
		if _, err := g.client.Models.Get(ctx, modelID); err != nil {
			return fmt.Errorf("checking model %s: %w", modelID, err)
		}
	}
	g.mu.Lock()
	g.model = modelID
	g.cfg = cfg
	g.mu.Unlock()
	g.logger.Info("model loaded", "model", modelID, "temperature", cfg.Temperature, "max_tokens", cfg.MaxTokens)
	return nil
}

func (g *OpenAIGenerator) Model() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.model
}

func (g *OpenAIGenerator) Complete(ctx context.Context, turns []conversation.Turn, onDelta func(string)) (Completion, error) {
	g.mu.Lock()
	if g.model == "" {
		g.mu.Unlock()
		return Completion{}, errors.New("no model loaded")
	}
	ctx, cancel := context.WithCancel(ctx)
	g.nextID++
	id := g.nextID
	g.inflight[id] = cancel
	params := g.params(turns)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inflight, id)
		g.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	var firstToken time.Time
	var text strings.Builder
	var out Completion
	var timings gjson.Result

	stream := g.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			out.Usage.PromptTokens = chunk.Usage.PromptTokens
			out.Usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		// llama.cpp reports its own throughput on the final chunk.
		if t := gjson.Get(chunk.RawJSON(), "timings"); t.Exists() {
			timings = t
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			out.FinishReason = choice.FinishReason
		}
		if choice.Delta.Content == "" {
			continue
		}
		if firstToken.IsZero() {
			firstToken = time.Now()
		}
		text.WriteString(choice.Delta.Content)
		if onDelta != nil {
			onDelta(choice.Delta.Content)
		}
	}
	out.Message = text.String()

	if err := stream.Err(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return out, ErrInterrupted
		}
		return out, fmt.Errorf("chat completion: %w", err)
	}

	out.Usage.PrefillTokensPerSec, out.Usage.DecodeTokensPerSec = throughput(out.Usage, start, firstToken, time.Now(), timings)
	g.logger.Debug("completion finished",
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"finish_reason", out.FinishReason,
	)
	return out, nil
}

// Interrupt cancels every in-flight completion. Each stream stops at its
// next chunk. Cancelling the ctx passed to Complete stops just that one.
func (g *OpenAIGenerator) Interrupt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cancel := range g.inflight {
		cancel()
	}
}

// ListModels returns the ids the server offers, sorted.
func (g *OpenAIGenerator) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	iter := g.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		ids = append(ids, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// params must be called with g.mu held.
func (g *OpenAIGenerator) params(turns []conversation.Turn) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    toMessages(turns),
		Temperature: openai.Float(g.cfg.Temperature),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if g.cfg.TopP > 0 {
		p.TopP = openai.Float(g.cfg.TopP)
	}
	if g.cfg.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(g.cfg.MaxTokens))
	}
	return p
}

// toMessages maps turns onto chat messages. Tool-result roles (tool,
// ipython) become tool messages keyed by the call id, which servers render
// with the model's own template. Results sent as user turns stay user turns.
func toMessages(turns []conversation.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case conversation.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		case conversation.RoleTool, conversation.RoleIPython:
			msgs = append(msgs, openai.ToolMessage(t.Content, strconv.Itoa(t.CallID)))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}

// throughput derives prefill and decode rates. Server-reported timings win
// over wall-clock estimates.
func throughput(u Usage, start, firstToken, end time.Time, timings gjson.Result) (prefill, decode float64) {
	if timings.Exists() {
		prefill = timings.Get("prompt_per_second").Float()
		decode = timings.Get("predicted_per_second").Float()
		if prefill > 0 || decode > 0 {
			return prefill, decode
		}
	}
	if firstToken.IsZero() {
		return 0, 0
	}
	if d := firstToken.Sub(start).Seconds(); d > 0 {
		prefill = float64(u.PromptTokens) / d
	}
	if d := end.Sub(firstToken).Seconds(); d > 0 {
		decode = float64(u.CompletionTokens) / d
	}
	return prefill, decode
}
