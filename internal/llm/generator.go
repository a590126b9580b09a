package llm

import (
	"context"
	"errors"

	"github.com/chris/wikichat/internal/conversation"
)

// ErrInterrupted is returned by Complete when Interrupt or a cancelled ctx
// stopped the stream.
// The returned Completion still carries the text received so far.
var ErrInterrupted = errors.New("generation interrupted")

// GenerationConfig is applied when a model is (re)loaded.
type GenerationConfig struct {
	Temperature   float64
	TopP          float64
	MaxTokens     int
	ContextTokens int
	// VerifyModel checks that the server knows the model before use.
	VerifyModel bool
}

type Usage struct {
	PromptTokens        int64
	CompletionTokens    int64
	PrefillTokensPerSec float64
	DecodeTokensPerSec  float64
}

// Completion is one finished generation.
type Completion struct {
	Message      string
	Usage        Usage
	FinishReason string
}

// Generator is an opaque streaming text completer. Tools are never passed
// natively; they live in the system prompt.
type Generator interface {
	Reload(ctx context.Context, modelID string, cfg GenerationConfig) error
	// Complete streams the reply to turns. onDelta receives each chunk of
	// text in arrival order. Completions may run concurrently; cancelling
	// ctx stops only this one and yields ErrInterrupted with the partial text.
	Complete(ctx context.Context, turns []conversation.Turn, onDelta func(string)) (Completion, error)
	// Interrupt stops every in-flight Complete.
	Interrupt()
	ListModels(ctx context.Context) ([]string, error)
}
