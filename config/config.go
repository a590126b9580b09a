package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	Temperature   float64
	TopP          float64
	MaxTokens     int
	ContextTokens int
	VerifyModel   bool

	Dialect        string // profile id, or "auto" to pick by model
	MaxToolRounds  int
	ParseErrorMode string // retry or text

	WikipediaAPIURL string
	SPARQLEndpoint  string
	SPARQLMaxBytes  int
	ToolTimeout     time.Duration

	DatabasePath  string
	RetentionDays int
	PruneCron     string

	DiscordToken string
	LogLevel     string

	errs []error
}

// ConfigDir is where the installed service keeps its settings.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wikichat")
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config")
}

// Load reads ~/.wikichat/config and .env, then the environment. Variables
// already set in the environment are never overridden.
func Load() *Config {
	_ = godotenv.Load(ConfigFile()) // ignore error if missing
	_ = godotenv.Load()             // ignore error if no .env
	return fromEnv()
}

func fromEnv() *Config {
	c := &Config{
		LLMBaseURL: envOr("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModel:   envOr("LLM_MODEL", "qwen2.5:3b"),

		Dialect:        strings.ToLower(envOr("DIALECT", "auto")),
		ParseErrorMode: strings.ToLower(envOr("PARSE_ERROR_MODE", "retry")),

		WikipediaAPIURL: envOr("WIKIPEDIA_API_URL", "https://en.wikipedia.org/w/api.php"),
		SPARQLEndpoint:  envOr("SPARQL_ENDPOINT", "https://query.wikidata.org/sparql"),

		DatabasePath: envOr("DATABASE_PATH", "./wikichat.db"),
		PruneCron:    envOr("PRUNE_CRON", "@daily"),

		DiscordToken: os.Getenv("DISCORD_BOT_TOKEN"),
		LogLevel:     strings.ToLower(envOr("LOG_LEVEL", "info")),
	}
	c.Temperature = c.envFloat("LLM_TEMPERATURE", 1.0)
	c.TopP = c.envFloat("LLM_TOP_P", 1.0)
	c.MaxTokens = c.envInt("LLM_MAX_TOKENS", 1024)
	c.ContextTokens = c.envInt("LLM_CONTEXT_TOKENS", 8192)
	c.VerifyModel = c.envBool("LLM_VERIFY_MODEL", true)
	c.MaxToolRounds = c.envInt("MAX_TOOL_ROUNDS", 5)
	c.SPARQLMaxBytes = c.envInt("SPARQL_MAX_BYTES", 16*1024)
	c.ToolTimeout = c.envDuration("TOOL_TIMEOUT", 20*time.Second)
	c.RetentionDays = c.envInt("RETENTION_DAYS", 30)
	return c
}

// Validate reports every unparsable or out-of-range setting.
func (c *Config) Validate() error {
	errs := append([]error{}, c.errs...)
	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.ParseErrorMode != "retry" && c.ParseErrorMode != "text" {
		errs = append(errs, fmt.Errorf("PARSE_ERROR_MODE must be retry or text, got %q", c.ParseErrorMode))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %v", c.Temperature))
	}
	if c.TopP <= 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("LLM_TOP_P must be in (0, 1], got %v", c.TopP))
	}
	for key, v := range map[string]int{
		"LLM_MAX_TOKENS":     c.MaxTokens,
		"LLM_CONTEXT_TOKENS": c.ContextTokens,
		"MAX_TOOL_ROUNDS":    c.MaxToolRounds,
		"SPARQL_MAX_BYTES":   c.SPARQLMaxBytes,
		"RETENTION_DAYS":     c.RetentionDays,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", key, v))
		}
	}
	if c.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TOOL_TIMEOUT must be positive, got %s", c.ToolTimeout))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Retention is RETENTION_DAYS as a duration; zero disables pruning.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (c *Config) envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return fallback
	}
	return f
}

func (c *Config) envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func (c *Config) envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}
