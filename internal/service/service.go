// Package service runs the Discord bot as a launchd agent on macOS.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/joho/godotenv"

	"github.com/chris/wikichat/config"
)

const (
	label   = "com.wikichat.bot"
	binDest = "/usr/local/bin/wikichat"
)

func plistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", label+".plist")
}

func logPaths() (stdout, stderr string) {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, "Library", "Logs")
	return filepath.Join(dir, "wikichat-stdout.log"), filepath.Join(dir, "wikichat-stderr.log")
}

// Unit is the launchd agent that runs `wikichat bot`.
type Unit struct {
	Label     string
	Binary    string
	Args      []string
	WorkDir   string
	Env       map[string]string
	StdoutLog string
	StderrLog string
}

// Plan derives the unit from the bot's configuration. The bot cannot start
// without a Discord token and a model. A relative DATABASE_PATH is pinned
// against cwd so the agent opens the same transcript store the CLI does,
// and the store's directory becomes the working directory.
func Plan(cfg *config.Config, cwd string) (Unit, error) {
	var errs []error
	if cfg.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is not set; the service only runs the bot"))
	}
	if cfg.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is not set"))
	}
	if cfg.DatabasePath == "" || cfg.DatabasePath == ":memory:" {
		errs = append(errs, fmt.Errorf("DATABASE_PATH %q cannot hold transcripts across restarts", cfg.DatabasePath))
	}
	if err := errors.Join(errs...); err != nil {
		return Unit{}, err
	}

	dbPath := cfg.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cwd, dbPath)
	}
	stdout, stderr := logPaths()
	return Unit{
		Label:   label,
		Binary:  binDest,
		Args:    []string{"bot"},
		WorkDir: filepath.Dir(dbPath),
		Env: map[string]string{
			"DATABASE_PATH": dbPath,
			"LOG_LEVEL":     cfg.LogLevel,
		},
		StdoutLog: stdout,
		StderrLog: stderr,
	}, nil
}

// Install checks the bot configuration, copies the binary to
// /usr/local/bin, seeds ~/.wikichat/config from .env if it has none yet,
// and loads the agent.
func Install(cfg *config.Config) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	unit, err := Plan(cfg, cwd)
	if err != nil {
		return fmt.Errorf("bot is not ready to install:\n%w", err)
	}

	if err := installBinary(); err != nil {
		return err
	}
	if err := seedConfig(".env", config.ConfigFile()); err != nil {
		return err
	}

	plist, err := renderPlist(unit)
	if err != nil {
		return fmt.Errorf("generating plist: %w", err)
	}
	if _, err := os.Stat(plistPath()); err == nil {
		_ = launchctl("unload", plistPath())
	}
	if err := os.MkdirAll(filepath.Dir(plistPath()), 0755); err != nil {
		return fmt.Errorf("creating LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(plistPath(), []byte(plist), 0644); err != nil {
		return fmt.Errorf("writing plist: %w", err)
	}
	if err := launchctl("load", plistPath()); err != nil {
		return fmt.Errorf("loading plist: %w", err)
	}
	fmt.Printf("bot installed: model %s, transcripts in %s\n", cfg.LLMModel, unit.Env["DATABASE_PATH"])
	return nil
}

func installBinary() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	if exe, err = filepath.EvalSymlinks(exe); err != nil {
		return fmt.Errorf("resolving symlinks: %w", err)
	}
	data, err := os.ReadFile(exe)
	if err != nil {
		return fmt.Errorf("reading binary: %w", err)
	}
	if err := os.WriteFile(binDest, data, 0755); err != nil {
		return fmt.Errorf("copying binary to %s: %w", binDest, err)
	}
	return nil
}

// seedConfig copies the settings in src to dst unless dst already exists.
// A missing src is not an error.
func seedConfig(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	env, err := godotenv.Read(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := godotenv.Write(env, dst); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Chmod(dst, 0600)
}

// Uninstall unloads and removes the agent and the installed binary. The
// config and transcripts are left in place.
func Uninstall() error {
	if _, err := os.Stat(plistPath()); err == nil {
		if err := launchctl("unload", plistPath()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		if err := os.Remove(plistPath()); err != nil {
			return fmt.Errorf("removing plist: %w", err)
		}
	}
	if err := os.Remove(binDest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing binary: %w", err)
	}
	fmt.Println("bot uninstalled")
	return nil
}

func Start() error { return launchctl("start", label) }

func Stop() error { return launchctl("stop", label) }

func Restart() error {
	_ = Stop()
	return Start()
}

// Status reports whether the bot is running.
func Status() error {
	out, err := exec.Command("launchctl", "list", label).Output()
	if err != nil {
		fmt.Println("bot is not installed")
		return nil
	}
	fmt.Println(describeStatus(string(out)))
	return nil
}

var (
	pidRe  = regexp.MustCompile(`"PID"\s*=\s*(\d+);`)
	exitRe = regexp.MustCompile(`"LastExitStatus"\s*=\s*(-?\d+);`)
)

// describeStatus summarises `launchctl list <label>` output.
func describeStatus(out string) string {
	if m := pidRe.FindStringSubmatch(out); m != nil {
		return "bot is running (pid " + m[1] + ")"
	}
	if m := exitRe.FindStringSubmatch(out); m != nil {
		if code, _ := strconv.Atoi(m[1]); code != 0 {
			return fmt.Sprintf("bot is stopped (last exit status %d, see `wikichat logs`)", code)
		}
	}
	return "bot is stopped"
}

// Logs follows the bot's stdout and stderr logs.
func Logs() error {
	stdout, stderr := logPaths()
	cmd := exec.Command("tail", "-f", stdout, stderr)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func launchctl(args ...string) error {
	cmd := exec.Command("launchctl", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("launchctl %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return nil
}

var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
{{- range .Args}}
		<string>{{html .}}</string>
{{- end}}
	</array>
	<key>EnvironmentVariables</key>
	<dict>
{{- range .Env}}
		<key>{{.Key}}</key>
		<string>{{html .Value}}</string>
{{- end}}
	</dict>
	<key>WorkingDirectory</key>
	<string>{{html .WorkDir}}</string>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{html .StdoutLog}}</string>
	<key>StandardErrorPath</key>
	<string>{{html .StderrLog}}</string>
</dict>
</plist>
`))

type envVar struct{ Key, Value string }

func renderPlist(u Unit) (string, error) {
	keys := make([]string, 0, len(u.Env))
	for k := range u.Env {
		if u.Env[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	env := make([]envVar, len(keys))
	for i, k := range keys {
		env[i] = envVar{k, u.Env[k]}
	}

	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, struct {
		Unit
		Env []envVar
	}{u, env})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
