package discord

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/chris/wikichat/internal/agent"
	"github.com/chris/wikichat/internal/llm"
)

const (
	cmdStop  = "!stop"
	cmdReset = "!reset"
)

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore own messages
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	// Only respond to DMs or when mentioned
	isDM := m.GuildID == ""
	isMentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			isMentioned = true
			break
		}
	}
	if !isDM && !isMentioned {
		return
	}

	content := strings.TrimSpace(stripMention(m.Content, s.State.User.ID))
	if content == "" {
		return
	}
	b.handle(context.Background(), m.ChannelID, content)
}

// handle runs one message against the channel's session. discordgo calls
// handlers on their own goroutines, so a message arriving mid-reply meets
// the session's busy guard.
func (b *Bot) handle(ctx context.Context, channelID, content string) {
	switch strings.ToLower(content) {
	case cmdStop:
		if s := b.existing(channelID); s != nil {
			s.Stop()
		}
		return
	case cmdReset:
		if _, err := b.sessionFor(channelID, true); err != nil {
			b.logger.Error("resetting session", "channel", channelID, "error", err)
			b.send(channelID, "Could not start a new conversation.")
			return
		}
		b.send(channelID, "Started a new conversation.")
		return
	}

	sess, err := b.sessionFor(channelID, false)
	if err != nil {
		b.logger.Error("opening session", "channel", channelID, "error", err)
		b.send(channelID, "Something went wrong. Try again?")
		return
	}

	_, err = sess.Send(ctx, content)
	var genErr *agent.GenerationError
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrBusy):
		b.send(channelID, "Still working on the last message. Say `!stop` to interrupt.")
	case errors.Is(err, agent.ErrInterrupted):
		b.send(channelID, "_stopped_")
	case errors.As(err, &genErr):
		// the presenter already showed the failure
		b.logger.Warn("generation failed", "channel", channelID, "error", genErr.Err)
	default:
		b.logger.Error("session error", "channel", channelID, "error", err)
		b.send(channelID, "Something went wrong. Try again?")
	}
}

func (b *Bot) existing(channelID string) *agent.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[channelID]
}

func (b *Bot) sessionFor(channelID string, fresh bool) (*agent.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[channelID]; ok && !fresh {
		return s, nil
	}
	if old, ok := b.sessions[channelID]; ok {
		old.Stop()
	}
	s, err := b.factory(channelID, &channelPresenter{bot: b, channelID: channelID}, fresh)
	if err != nil {
		return nil, err
	}
	b.sessions[channelID] = s
	return s, nil
}

func (b *Bot) send(channelID, content string) {
	for _, chunk := range splitMessage(content, maxMessageLen) {
		if _, err := b.out.ChannelMessageSend(channelID, chunk); err != nil {
			b.logger.Warn("sending message", "channel", channelID, "error", err)
			return
		}
	}
}

// channelPresenter posts a session's output to its channel. Discord has no
// cheap way to stream, so deltas only keep the typing indicator alive.
type channelPresenter struct {
	bot       *Bot
	channelID string
}

func (p *channelPresenter) BeginTurn() {
	_ = p.bot.out.ChannelTyping(p.channelID)
}

func (p *channelPresenter) Delta(string) {}

func (p *channelPresenter) FinishTurn(display string, _ llm.Usage) {
	if strings.TrimSpace(display) == "" {
		return
	}
	p.bot.send(p.channelID, display)
}

func (p *channelPresenter) Working() {
	p.bot.send(p.channelID, "_working..._")
}

func (p *channelPresenter) ToolResult(name, payload string) {
	if name == "" {
		name = "error"
	}
	p.bot.send(p.channelID, "func result ("+name+"): `"+truncate(payload, 300)+"`")
}

func stripMention(s, userID string) string {
	s = strings.ReplaceAll(s, "<@"+userID+">", "")
	s = strings.ReplaceAll(s, "<@!"+userID+">", "")
	return s
}

func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		end := maxLen
		if end > len(s) {
			end = len(s)
		}
		// Try to split at a newline
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
