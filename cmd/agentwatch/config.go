package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"

	"agentwatch/internal/hooks"
	"agentwatch/internal/logging"
	"agentwatch/internal/realtime"
	"agentwatch/internal/session"
)

// Config is loaded from defaults, then ~/.agentwatch/config.toml, then the
// environment.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Detection DetectionConfig `toml:"detection"`
	Hooks     HooksConfig     `toml:"hooks"`
	Log       LogConfig       `toml:"log"`
	Journal   JournalConfig   `toml:"journal"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// MaxSessions caps registered panes. 0 means unlimited.
	MaxSessions int `toml:"max_sessions"`
}

// DetectionConfig tunes the state machine. Zero values use the built-in
// defaults.
type DetectionConfig struct {
	IdleTimeoutMs    int `toml:"idle_timeout_ms"`
	PriorityWindowMs int `toml:"priority_window_ms"`
	ForcedExitMs     int `toml:"forced_exit_ms"`
	RecencyWindowMs  int `toml:"recency_window_ms"`
	BufferCap        int `toml:"buffer_cap"`
	HistorySize      int `toml:"history_size"`
}

// HooksConfig controls hook ingestion and installation.
type HooksConfig struct {
	// SpoolDir receives payloads the hook script could not post.
	SpoolDir string `toml:"spool_dir"`

	// SettingsDir holds the agent's settings.json.
	SettingsDir string `toml:"settings_dir"`

	// ScriptDir receives the forwarding script.
	ScriptDir string `toml:"script_dir"`

	// Rate is the sustained number of hook posts accepted per second.
	Rate float64 `toml:"rate"`

	Burst int `toml:"burst"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	// Dir enables rotated file logging. Empty logs to stderr.
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// JournalConfig controls the transition journal.
type JournalConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`
	RetentionHours int    `toml:"retention_hours"`
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentwatch"
	}
	return filepath.Join(home, ".agentwatch")
}

func claudeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

func defaultConfigPath() string {
	return filepath.Join(baseDir(), "config.toml")
}

func defaultConfig() Config {
	base := baseDir()
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 52429,
		},
		Hooks: HooksConfig{
			SpoolDir:    filepath.Join(base, "spool"),
			SettingsDir: claudeDir(),
			ScriptDir:   filepath.Join(base, "bin"),
			Rate:        50,
			Burst:       100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Journal: JournalConfig{
			Enabled:        true,
			Path:           filepath.Join(base, "journal.db"),
			RetentionHours: 168,
		},
	}
}

// loadConfig reads path (the default location when empty) over the
// defaults. A missing file is not an error. A malformed file returns the
// defaults together with the parse error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = defaultConfigPath()
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		def := defaultConfig()
		applyEnv(&def)
		return def, fmt.Errorf("config.toml parse error: %w", err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTWATCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("AGENTWATCH_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AGENTWATCH_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxSessions = n
		}
	}
	if v := os.Getenv("AGENTWATCH_SPOOL_DIR"); v != "" {
		cfg.Hooks.SpoolDir = v
	}
	if v := os.Getenv("AGENTWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AGENTWATCH_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("AGENTWATCH_JOURNAL"); v != "" {
		if v == "off" {
			cfg.Journal.Enabled = false
		} else {
			cfg.Journal.Path = v
		}
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Endpoint is the URL the hook script posts to.
func (c Config) Endpoint() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/hook", host, c.Server.Port)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// TrackerOptions converts the detection settings.
func (c Config) TrackerOptions() session.Options {
	return session.Options{
		IdleTimeout:       ms(c.Detection.IdleTimeoutMs),
		PriorityWindow:    ms(c.Detection.PriorityWindowMs),
		ForcedExitTimeout: ms(c.Detection.ForcedExitMs),
		RecencyWindow:     ms(c.Detection.RecencyWindowMs),
		BufferCap:         c.Detection.BufferCap,
		HistorySize:       c.Detection.HistorySize,
		MaxSessions:       c.Server.MaxSessions,
	}
}

// ServerOptions converts the hook rate limit.
func (c Config) ServerOptions() realtime.Options {
	return realtime.Options{
		HookRate:  rate.Limit(c.Hooks.Rate),
		HookBurst: c.Hooks.Burst,
	}
}

// LoggingConfig converts the log section.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Dir:        c.Log.Dir,
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// InstallConfig locates the hook installer's files.
func (c Config) InstallConfig() hooks.InstallConfig {
	return hooks.InstallConfig{
		SettingsDir: c.Hooks.SettingsDir,
		ScriptDir:   c.Hooks.ScriptDir,
		Endpoint:    c.Endpoint(),
		SpoolDir:    c.Hooks.SpoolDir,
	}
}
