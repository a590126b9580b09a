package discord

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/wikichat/internal/agent"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Factory returns the session for a channel. fresh discards any stored
// conversation and starts a new one.
type Factory func(channelID string, presenter agent.Presenter, fresh bool) (*agent.Session, error)

// sender is the part of *discordgo.Session the bot writes through.
type sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type Bot struct {
	session *discordgo.Session
	out     sender
	factory Factory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*agent.Session
}

func NewBot(token string, factory Factory, logger *slog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}

	bot := newBot(s, factory, logger)
	bot.session = s
	s.AddHandler(bot.onMessage)
	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("opening Discord connection: %w", err)
	}

	bot.logger.Info("Discord bot connected", "user", s.State.User.Username)
	return bot, nil
}

func newBot(out sender, factory Factory, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bot{
		out:      out,
		factory:  factory,
		logger:   logger.With("component", "discord"),
		sessions: make(map[string]*agent.Session),
	}
}

// Close stops in-flight generations and disconnects.
func (b *Bot) Close() {
	b.mu.Lock()
	for _, s := range b.sessions {
		s.Stop()
	}
	b.mu.Unlock()
	if b.session != nil {
		b.session.Close()
	}
}
