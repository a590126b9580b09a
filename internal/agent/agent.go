package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chris/wikichat/internal/conversation"
	"github.com/chris/wikichat/internal/dialect"
	"github.com/chris/wikichat/internal/llm"
	"github.com/chris/wikichat/internal/tools"
)

var (
	ErrBusy        = errors.New("a reply is already being generated")
	ErrInterrupted = errors.New("generation stopped")
	ErrEmptyInput  = errors.New("empty message")
)

// TruncatedNotice is shown when the tool-call ceiling ends a turn.
const TruncatedNotice = "I hit the maximum number of tool calls. Here's what I have so far."

// GenerationError wraps a failure of the generator.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "generation failed: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

type State int

const (
	Idle State = iota
	Generating
	Detecting
	Dispatching
)

func (s State) String() string {
	switch s {
	case Generating:
		return "generating"
	case Detecting:
		return "detecting"
	case Dispatching:
		return "dispatching"
	}
	return "idle"
}

type ParseErrorMode string

const (
	// ParseErrorRetry feeds the parse error back to the model as a result turn.
	ParseErrorRetry ParseErrorMode = "retry"
	// ParseErrorText keeps the malformed call as the final plain-text answer.
	ParseErrorText ParseErrorMode = "text"
)

// Presenter renders a session. Calls arrive on the goroutine running Send.
type Presenter interface {
	// BeginTurn shows a placeholder for a new assistant message.
	BeginTurn()
	// Delta receives the accumulated text of the message being generated.
	Delta(textSoFar string)
	FinishTurn(display string, usage llm.Usage)
	// Working is shown before a call that followed conversational text.
	Working()
	ToolResult(name, payload string)
}

// Dispatcher runs parsed tool calls.
type Dispatcher interface {
	Invoke(ctx context.Context, call tools.Call) tools.Result
}

type Options struct {
	Generator  llm.Generator
	Dispatcher Dispatcher
	Profile    *dialect.Profile
	Catalog    *tools.Catalog
	Presenter  Presenter
	Logger     *slog.Logger

	MaxToolRounds  int // 0 = unbounded
	ParseErrorMode ParseErrorMode
	ContextTokens  int // 0 = no trimming

	// ID and History resume a persisted session. History must start with
	// its system turn.
	ID       string
	History  []conversation.Turn
	Recorder conversation.Recorder
}

// Reply is the outcome of one user turn.
type Reply struct {
	Text       string
	Usage      llm.Usage
	ToolRounds int
	Truncated  bool
}

// Session runs the generate, detect, dispatch loop for one conversation.
type Session struct {
	id         string
	gen        llm.Generator
	dispatcher Dispatcher
	profile    *dialect.Profile
	presenter  Presenter
	logger     *slog.Logger

	maxRounds     int
	parseMode     ParseErrorMode
	contextTokens int

	conv *conversation.State

	mu      sync.Mutex
	status  State
	stopped bool
	cancel  context.CancelFunc // cancels the generation in flight
}

func New(opts Options) (*Session, error) {
	if opts.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Profile == nil {
		opts.Profile = dialect.Default()
	}
	switch opts.ParseErrorMode {
	case "":
		opts.ParseErrorMode = ParseErrorRetry
	case ParseErrorRetry, ParseErrorText:
	default:
		return nil, fmt.Errorf("unknown parse error mode %q", opts.ParseErrorMode)
	}
	if opts.MaxToolRounds < 0 {
		return nil, fmt.Errorf("max tool rounds must not be negative, got %d", opts.MaxToolRounds)
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	var conv *conversation.State
	if len(opts.History) > 0 {
		restored, err := conversation.Restore(opts.History)
		if err != nil {
			return nil, fmt.Errorf("restoring session %s: %w", opts.ID, err)
		}
		conv = restored
	} else {
		if opts.Catalog == nil {
			return nil, errors.New("catalog is required for a new session")
		}
		prompt, err := dialect.BuildSystemPrompt(opts.Profile, opts.Catalog)
		if err != nil {
			return nil, err
		}
		conv = conversation.New(prompt)
	}

	logger := opts.Logger.With("session", opts.ID, "dialect", opts.Profile.ID)
	if opts.Recorder != nil {
		conv.SetRecorder(opts.Recorder, func(err error) {
			logger.Warn("recording turn", "error", err)
		})
	}

	return &Session{
		id:            opts.ID,
		gen:           opts.Generator,
		dispatcher:    opts.Dispatcher,
		profile:       opts.Profile,
		presenter:     opts.Presenter,
		logger:        logger,
		maxRounds:     opts.MaxToolRounds,
		parseMode:     opts.ParseErrorMode,
		contextTokens: opts.ContextTokens,
		conv:          conv,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Profile() *dialect.Profile { return s.profile }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns a copy of the turn log.
func (s *Session) Transcript() []conversation.Turn {
	return s.conv.Turns()
}

// Stop interrupts this session's generation at the next chunk. A tool call
// in progress runs to completion and the turn ends after its result. It is
// a no-op when idle.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Idle {
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Send runs one user turn to completion: generation, at most one tool call
// per generation, and re-entry until the model answers in plain text.
func (s *Session) Send(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyInput
	}
	s.mu.Lock()
	if s.status != Idle {
		s.mu.Unlock()
		return Reply{}, ErrBusy
	}
	s.status = Generating
	s.stopped = false
	s.mu.Unlock()
	defer s.setStatus(Idle)

	if err := s.conv.Append(conversation.Turn{Role: conversation.RoleUser, Content: text}); err != nil {
		return Reply{}, err
	}

	var reply Reply
	for {
		s.setStatus(Generating)
		completion, err := s.generate(ctx)
		reply.Usage = completion.Usage
		if errors.Is(err, errStopPending) {
			return reply, ErrInterrupted
		}
		if err != nil {
			if errors.Is(err, llm.ErrInterrupted) || s.isStopped() {
				s.presenter.FinishTurn(completion.Message, completion.Usage)
				reply.Text = completion.Message
				s.logger.Info("generation interrupted", "chars", len(completion.Message))
				return reply, ErrInterrupted
			}
			genErr := &GenerationError{Err: err}
			s.presenter.FinishTurn("Error: "+genErr.Error(), llm.Usage{})
			s.logger.Error("generation failed", "error", err)
			return reply, genErr
		}

		s.setStatus(Detecting)
		message := completion.Message
		d := s.profile.Detect(message)
		if d.Reasoning != "" {
			s.logger.Debug("model reasoning", "chars", len(d.Reasoning))
		}

		if d.Kind == dialect.KindNone {
			return s.finishText(reply, message, completion.Usage)
		}

		if s.maxRounds > 0 && reply.ToolRounds >= s.maxRounds {
			s.logger.Warn("tool call ceiling reached", "rounds", reply.ToolRounds)
			if err := s.appendAssistant(message, 0); err != nil {
				return reply, err
			}
			reply.Text = strings.TrimSpace(message + "\n\n" + TruncatedNotice)
			reply.Truncated = true
			s.presenter.FinishTurn(reply.Text, completion.Usage)
			return reply, nil
		}

		call, err := s.profile.Normalize(d.Raw)
		if err != nil {
			var perr *dialect.ParseError
			if !errors.As(err, &perr) {
				return reply, err
			}
			s.logger.Warn("unparsable tool call", "reason", string(perr.Reason), "mode", string(s.parseMode))
			if s.parseMode == ParseErrorText {
				return s.finishText(reply, message, completion.Usage)
			}
			id := s.conv.NextCallID()
			if err := s.appendAssistant(message, id); err != nil {
				return reply, err
			}
			s.presenter.FinishTurn(message, completion.Usage)
			result := s.profile.FormatParseError(perr, id)
			if err := s.conv.Append(result); err != nil {
				return reply, err
			}
			s.presenter.ToolResult("", result.Content)
			reply.ToolRounds++
			continue
		}

		id := s.conv.NextCallID()
		if err := s.appendAssistant(message, id); err != nil {
			return reply, err
		}
		s.presenter.FinishTurn(callDisplay(d, call), completion.Usage)
		if d.Trailing {
			s.presenter.Working()
		}

		s.setStatus(Dispatching)
		res := s.dispatcher.Invoke(ctx, call)
		if err := s.conv.Append(s.profile.FormatResult(call, res.JSON(), id)); err != nil {
			return reply, err
		}
		s.presenter.ToolResult(call.Name, res.JSON())
		reply.ToolRounds++

		if s.isStopped() {
			return reply, ErrInterrupted
		}
	}
}

// errStopPending means Stop landed before the next generation began.
var errStopPending = errors.New("stop pending")

// generate trims the history to the context budget and streams one
// completion to the presenter. The completion runs under a context that
// Stop cancels.
func (s *Session) generate(ctx context.Context) (llm.Completion, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return llm.Completion{}, errStopPending
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	turns := s.conv.Turns()
	if s.contextTokens > 0 {
		trimmed := llm.TrimTurns(turns, s.contextTokens)
		if len(trimmed) < len(turns) {
			s.logger.Info("context trimmed",
				"from", len(turns), "to", len(trimmed),
				"tokens", llm.EstimateTurnsTokens(trimmed), "budget", s.contextTokens)
		}
		turns = trimmed
	}
	turns = s.profile.WireTurns(turns)

	s.presenter.BeginTurn()
	var text strings.Builder
	return s.gen.Complete(ctx, turns, func(delta string) {
		text.WriteString(delta)
		s.presenter.Delta(text.String())
	})
}

func (s *Session) finishText(reply Reply, message string, usage llm.Usage) (Reply, error) {
	if err := s.appendAssistant(message, 0); err != nil {
		return reply, err
	}
	reply.Text = message
	s.presenter.FinishTurn(message, usage)
	return reply, nil
}

func (s *Session) appendAssistant(content string, callID int) error {
	return s.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: content, CallID: callID})
}

func (s *Session) setStatus(st State) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// callDisplay is what replaces a call message on screen: any preamble,
// then a "func call:" line.
func callDisplay(d dialect.Detection, call tools.Call) string {
	args, _ := json.Marshal(call.Arguments) // decoded from JSON, re-encodes cleanly
	line := fmt.Sprintf("func call: %s(%s)", call.Name, args)
	if d.Preamble == "" {
		return line
	}
	return d.Preamble + "\n" + line
}

type nopPresenter struct{}

func (nopPresenter) BeginTurn()                   {}
func (nopPresenter) Delta(string)                 {}
func (nopPresenter) FinishTurn(string, llm.Usage) {}
func (nopPresenter) Working()                     {}
func (nopPresenter) ToolResult(string, string)    {}
