package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/chris/wikichat/internal/llm"
)

type theme struct {
	prompt    lipgloss.Style
	assistant lipgloss.Style
	call      lipgloss.Style
	result    lipgloss.Style
	working   lipgloss.Style
	usage     lipgloss.Style
	err       lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		prompt:    lipgloss.NewStyle().Foreground(blue).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(mint).Bold(true),
		call:      lipgloss.NewStyle().Foreground(pink),
		result:    lipgloss.NewStyle().Foreground(muted),
		working:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		usage:     lipgloss.NewStyle().Foreground(muted).Faint(true),
		err:       lipgloss.NewStyle().Foreground(pink).Bold(true),
	}
}

const resultPreview = 500

// terminalPresenter streams a session to a terminal. Deltas print only the
// text not yet shown; when the final display differs from the stream (a
// tool call), the display is printed on its own line.
type terminalPresenter struct {
	out   io.Writer
	theme theme

	mu       sync.Mutex
	streamed string
}

func newTerminalPresenter(out io.Writer) *terminalPresenter {
	return &terminalPresenter{out: out, theme: newTheme()}
}

func (p *terminalPresenter) BeginTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamed = ""
	fmt.Fprint(p.out, p.theme.assistant.Render("assistant>")+" ")
}

func (p *terminalPresenter) Delta(textSoFar string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.HasPrefix(textSoFar, p.streamed) {
		fmt.Fprint(p.out, textSoFar[len(p.streamed):])
	} else {
		fmt.Fprint(p.out, "\n"+textSoFar)
	}
	p.streamed = textSoFar
}

func (p *terminalPresenter) FinishTurn(display string, usage llm.Usage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out)
	switch {
	case display == p.streamed:
	case strings.HasPrefix(display, "Error: "):
		fmt.Fprintln(p.out, p.theme.err.Render(display))
	case p.streamed != "" && strings.HasPrefix(display, p.streamed):
		fmt.Fprintln(p.out, p.theme.working.Render(strings.TrimSpace(display[len(p.streamed):])))
	default:
		fmt.Fprintln(p.out, p.theme.call.Render(display))
	}
	if line := usageLine(usage); line != "" {
		fmt.Fprintln(p.out, p.theme.usage.Render(line))
	}
}

func (p *terminalPresenter) Working() {
	fmt.Fprintln(p.out, p.theme.working.Render("working..."))
}

func (p *terminalPresenter) ToolResult(name, payload string) {
	if len(payload) > resultPreview {
		payload = payload[:resultPreview] + "..."
	}
	label := "func result:"
	if name != "" {
		label = "func result (" + name + "):"
	}
	fmt.Fprintln(p.out, p.theme.result.Render(label+" "+payload))
}

func (p *terminalPresenter) Prompt() {
	fmt.Fprint(p.out, p.theme.prompt.Render("you>")+" ")
}

func (p *terminalPresenter) Notice(msg string) {
	fmt.Fprintln(p.out, p.theme.working.Render(msg))
}

func (p *terminalPresenter) Error(err error) {
	fmt.Fprintln(p.out, p.theme.err.Render("error: "+err.Error()))
}

// usageLine renders token counts and throughput; empty when nothing was
// reported.
func usageLine(u llm.Usage) string {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return ""
	}
	parts := []string{
		fmt.Sprintf("prompt: %s tokens", humanize.Comma(u.PromptTokens)),
		fmt.Sprintf("completion: %s tokens", humanize.Comma(u.CompletionTokens)),
	}
	if u.PrefillTokensPerSec > 0 {
		parts = append(parts, fmt.Sprintf("prefill: %s tokens/sec", humanize.CommafWithDigits(u.PrefillTokensPerSec, 1)))
	}
	if u.DecodeTokensPerSec > 0 {
		parts = append(parts, fmt.Sprintf("decoding: %s tokens/sec", humanize.CommafWithDigits(u.DecodeTokensPerSec, 1)))
	}
	return strings.Join(parts, ", ")
}
