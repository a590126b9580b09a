package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/chris/wikichat/config"
	"github.com/chris/wikichat/internal/agent"
	"github.com/chris/wikichat/internal/db"
	"github.com/chris/wikichat/internal/dialect"
	"github.com/chris/wikichat/internal/llm"
	"github.com/chris/wikichat/internal/tools"
)

// app holds everything a session needs, built once per process.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	gen        llm.Generator
	model      string
	profile    *dialect.Profile
	catalog    *tools.Catalog
	dispatcher agent.Dispatcher
	store      *db.DB
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	profile, err := resolveProfile(cfg.Dialect, cfg.LLMModel)
	if err != nil {
		return nil, err
	}

	catalog, dispatcher, err := tools.Default(tools.Options{
		WikipediaAPIURL: cfg.WikipediaAPIURL,
		SPARQLEndpoint:  cfg.SPARQLEndpoint,
		SPARQLMaxBytes:  cfg.SPARQLMaxBytes,
		Timeout:         cfg.ToolTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building tools: %w", err)
	}

	gen := llm.NewOpenAIGenerator(cfg.LLMAPIKey, cfg.LLMBaseURL, logger)
	if err := gen.Reload(ctx, cfg.LLMModel, generationConfig(cfg)); err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("model loaded", "model", cfg.LLMModel, "dialect", profile.ID, "base_url", cfg.LLMBaseURL)
	return &app{
		cfg:        cfg,
		logger:     logger,
		gen:        gen,
		model:      gen.Model(),
		profile:    profile,
		catalog:    catalog,
		dispatcher: dispatcher,
		store:      store,
	}, nil
}

func openStore(cfg *config.Config) (*db.DB, error) {
	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func generationConfig(cfg *config.Config) llm.GenerationConfig {
	return llm.GenerationConfig{
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		MaxTokens:     cfg.MaxTokens,
		ContextTokens: cfg.ContextTokens,
		VerifyModel:   cfg.VerifyModel,
	}
}

// resolveProfile maps the DIALECT setting to a profile. "auto" picks by
// model id.
func resolveProfile(setting, model string) (*dialect.Profile, error) {
	setting = strings.ToLower(strings.TrimSpace(setting))
	if setting == "" || setting == "auto" {
		return dialect.Select(model), nil
	}
	if p, ok := dialect.Lookup(setting); ok {
		return p, nil
	}
	var ids []string
	for _, p := range dialect.Profiles() {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return nil, fmt.Errorf("unknown dialect %q (want auto or one of %s)", setting, strings.Join(ids, ", "))
}

// historyBudget is the context window minus room for the reply.
func historyBudget(contextTokens, maxTokens int) int {
	if contextTokens <= 0 {
		return 0
	}
	if budget := contextTokens - maxTokens; budget > 0 {
		return budget
	}
	return contextTokens
}

func (a *app) sessionOptions(presenter agent.Presenter) agent.Options {
	return agent.Options{
		Generator:      a.gen,
		Dispatcher:     a.dispatcher,
		Profile:        a.profile,
		Catalog:        a.catalog,
		Presenter:      presenter,
		Logger:         a.logger,
		MaxToolRounds:  a.cfg.MaxToolRounds,
		ParseErrorMode: agent.ParseErrorMode(a.cfg.ParseErrorMode),
		ContextTokens:  historyBudget(a.cfg.ContextTokens, a.cfg.MaxTokens),
	}
}

// newSession starts a stored session tagged with its source.
func (a *app) newSession(presenter agent.Presenter, source string) (*agent.Session, error) {
	opts := a.sessionOptions(presenter)
	opts.ID = uuid.NewString()
	opts.Recorder = a.store.Recorder(opts.ID)

	sess, err := agent.New(opts)
	if err != nil {
		return nil, err
	}
	err = a.store.CreateSession(db.Session{
		ID:      sess.ID(),
		Model:   a.model,
		Dialect: sess.Profile().ID,
		Source:  source,
	}, sess.Transcript()[0])
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// resumeSession reloads a stored session with the dialect it was started in.
func (a *app) resumeSession(id string, presenter agent.Presenter) (*agent.Session, error) {
	stored, err := a.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("no session %q", id)
	}
	turns, err := a.store.LoadTurns(id)
	if err != nil {
		return nil, err
	}
	if stored.Model != a.model {
		a.logger.Warn("resuming with a different model", "session", id, "stored", stored.Model, "current", a.model)
	}

	opts := a.sessionOptions(presenter)
	if p, ok := dialect.Lookup(stored.Dialect); ok {
		opts.Profile = p
	}
	opts.ID = id
	opts.History = turns
	opts.Recorder = a.store.Recorder(id)
	return agent.New(opts)
}

// channelSession is the Discord factory. A channel keeps its stored session
// until it is reset.
func (a *app) channelSession(channelID string, presenter agent.Presenter, fresh bool) (*agent.Session, error) {
	if !fresh {
		id, err := a.store.ChannelSession(channelID)
		if err != nil {
			return nil, err
		}
		if id != "" {
			sess, err := a.resumeSession(id, presenter)
			if err == nil {
				return sess, nil
			}
			a.logger.Warn("starting over", "channel", channelID, "session", id, "error", err)
		}
	}

	sess, err := a.newSession(presenter, "discord")
	if err != nil {
		return nil, err
	}
	if err := a.store.SetChannelSession(channelID, sess.ID()); err != nil {
		return nil, err
	}
	a.logger.Info("channel session started", "channel", channelID, "session", sess.ID())
	return sess, nil
}
