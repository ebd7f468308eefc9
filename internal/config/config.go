package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for hrchat.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Service  ServiceConfig  `json:"service"`
	Widget   WidgetConfig   `json:"widget"`
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// ServiceConfig points at the two external collaborators.
type ServiceConfig struct {
	DirectoryBase    string `json:"directoryBase"` // client directory, GET {base}/clients/api/clients/{company}/
	AnswerBase       string `json:"answerBase"`    // answer service, POST {base}/query_with_retrieval/
	MaxResponseBytes int64  `json:"maxResponseBytes"`
}

// WidgetConfig holds the fallback injected identity and presentation knobs.
// COMPANY_NAME and CLIENT_NAME in the environment take precedence over Company and Client.
type WidgetConfig struct {
	Company         string `json:"company,omitempty"`
	Client          string `json:"client,omitempty"`
	GreetingDelayMs int    `json:"greetingDelayMs"`
	CopyFile        string `json:"copyFile,omitempty"` // YAML file overriding the widget copy
}

type ChannelsConfig struct {
	CLI       CLIConfig       `json:"cli"`
	WebSocket WebSocketConfig `json:"websocket"`
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord"`
	Slack     SlackConfig     `json:"slack"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"` // empty = allow all
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	GuildID   string         `json:"guildId,omitempty"` // empty = every guild and DM
	AllowFrom FlexStringList `json:"allowFrom"`
}

// SlackConfig uses Socket Mode, which needs both a bot token and an app-level token.
type SlackConfig struct {
	Enabled   bool           `json:"enabled"`
	BotToken  string         `json:"botToken"`
	AppToken  string         `json:"appToken"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.hrchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hrchat"
	}
	return filepath.Join(home, ".hrchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Widget.CopyFile = ExpandPath(cfg.Widget.CopyFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if _, ok := parseLevel(cfg.General.LogLevel); !ok {
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	for name, base := range map[string]string{
		"service.directoryBase": cfg.Service.DirectoryBase,
		"service.answerBase":    cfg.Service.AnswerBase,
	} {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("%s must be an absolute http(s) URL", name))
		}
	}
	if cfg.Service.MaxResponseBytes < 1 {
		errs = append(errs, "service.maxResponseBytes must be >= 1")
	}

	if cfg.Widget.GreetingDelayMs < 0 || cfg.Widget.GreetingDelayMs > 60000 {
		errs = append(errs, "widget.greetingDelayMs must be between 0 and 60000")
	}

	if cfg.Channels.WebSocket.Port < 0 || cfg.Channels.WebSocket.Port > 65535 {
		errs = append(errs, "channels.websocket.port must be between 0 and 65535")
	}
	if cfg.Channels.WebSocket.Enabled && !strings.HasPrefix(cfg.Channels.WebSocket.Path, "/") {
		errs = append(errs, "channels.websocket.path must start with /")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if sl := cfg.Channels.Slack; sl.Enabled && (sl.BotToken == "" || sl.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and channels.slack.appToken are required when slack is enabled")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must be set")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogLevel returns the slog level for general.logLevel (info when unset).
func (c *Config) LogLevel() slog.Level {
	lvl, _ := parseLevel(c.General.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
