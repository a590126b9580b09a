package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chris/wikichat/config"
	"github.com/chris/wikichat/internal/agent"
	"github.com/chris/wikichat/internal/dialect"
	"github.com/chris/wikichat/internal/discord"
	"github.com/chris/wikichat/internal/llm"
	"github.com/chris/wikichat/internal/scheduler"
	"github.com/chris/wikichat/internal/service"
)

const usage = `usage: wikichat [command]

commands:
  chat [-resume id]   talk to the model in the terminal (default)
  models [prefix]     list models the server offers
  sessions            list stored sessions
  prune               delete sessions older than RETENTION_DAYS
  bot                 run the Discord bot
  install             install the bot as a launchd agent
  uninstall           remove the launchd agent
  start|stop|restart  control the launchd agent
  status              show launchd status
  logs                follow the agent's logs
`

func main() {
	cmd, args := "chat", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "install":
		exitOn(service.Install(config.Load()))
		return
	case "uninstall":
		exitOn(service.Uninstall())
		return
	case "start":
		exitOn(service.Start())
		return
	case "stop":
		exitOn(service.Stop())
		return
	case "restart":
		exitOn(service.Restart())
		return
	case "status":
		exitOn(service.Status())
		return
	case "logs":
		exitOn(service.Logs())
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cmd == "chat")
	slog.SetDefault(logger)

	var err error
	switch cmd {
	case "chat":
		err = runChat(cfg, logger, args)
	case "models":
		err = runModels(cfg, logger, args)
	case "sessions":
		err = runSessions(cfg, logger)
	case "prune":
		err = runPrune(cfg, logger)
	case "bot":
		err = runBot(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	resume := fs.String("resume", "", "resume a stored session by id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ui := newTerminalPresenter(os.Stdout)
	var sess *agent.Session
	if *resume != "" {
		sess, err = a.resumeSession(*resume, ui)
	} else {
		sess, err = a.newSession(ui, "cli")
	}
	if err != nil {
		return err
	}

	// Check if stdin is a pipe (non-interactive)
	stat, _ := os.Stdin.Stat()
	isPipe := (stat.Mode() & os.ModeCharDevice) == 0

	// Ctrl+C stops a reply in progress; at the prompt it exits.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for s := range sig {
			if s == syscall.SIGINT && sess.State() != agent.Idle {
				sess.Stop()
				continue
			}
			fmt.Println()
			a.Close()
			os.Exit(0)
		}
	}()

	if !isPipe {
		ui.Notice(fmt.Sprintf("session %s (%s, %s dialect). Ctrl+C stops a reply, exit quits.", sess.ID(), a.model, sess.Profile().ID))
		ui.Prompt()
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			if !isPipe {
				ui.Prompt()
			}
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := sess.Send(ctx, input)
		var genErr *agent.GenerationError
		switch {
		case errors.Is(err, agent.ErrInterrupted):
			ui.Notice("stopped.")
		case errors.As(err, &genErr):
			// already shown in place of the reply
		case err != nil:
			ui.Error(err)
		case reply.ToolRounds > 0:
			logger.Debug("reply complete", "tool_rounds", reply.ToolRounds, "truncated", reply.Truncated)
		}

		if isPipe {
			break // single exchange in pipe mode
		}
		ui.Prompt()
	}
	return scanner.Err()
}

func runModels(cfg *config.Config, logger *slog.Logger, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = strings.ToLower(args[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	gen := llm.NewOpenAIGenerator(cfg.LLMAPIKey, cfg.LLMBaseURL, logger)
	ids, err := gen.ListModels(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, id := range ids {
		if !strings.HasPrefix(strings.ToLower(id), prefix) {
			continue
		}
		mark := " "
		if id == cfg.LLMModel {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\n", mark, id, dialect.Select(id).ID)
	}
	return w.Flush()
}

func runSessions(cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(20)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(empty)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d turns\t%s\t%s\n",
			s.ID, s.Model, s.Source, s.Turns, humanize.Time(s.UpdatedTime()), title)
	}
	return w.Flush()
}

func runPrune(cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := scheduler.New(store, cfg.Retention(), cfg.PruneCron, logger).RunOnce()
	if err != nil {
		return err
	}
	fmt.Printf("pruned %s %s\n", humanize.Comma(n), plural(n, "session", "sessions"))
	return nil
}

func runBot(cfg *config.Config, logger *slog.Logger) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_BOT_TOKEN is not set")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.store, cfg.Retention(), cfg.PruneCron, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	if next := sched.Next(); !next.IsZero() {
		logger.Info("prune scheduled", "next", humanize.Time(next))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	bot, err := discord.NewBot(cfg.DiscordToken, a.channelSession, logger)
	if err != nil {
		return err
	}
	defer bot.Close()

	logger.Info("bot is running. Press Ctrl+C to exit.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down.")
	return nil
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
