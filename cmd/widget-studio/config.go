package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"widget-studio/internal/editor"
	"widget-studio/internal/policy"
	"widget-studio/internal/preview"
	"widget-studio/internal/web"
)

type Config struct {
	Web struct {
		Listen           string   `yaml:"listen"`
		APIKey           string   `yaml:"api_key"`
		AllowedOrigins   []string `yaml:"allowed_origins"`
		DefaultAuthority string   `yaml:"default_authority"` // for requests without X-Authority
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Editor struct {
		CommitDelay   string `yaml:"commit_delay"`
		Preview       string `yaml:"preview"` // "lua" or "remote"
		ScriptTimeout string `yaml:"script_timeout"`
	} `yaml:"editor"`
	Workspace struct {
		Dir string `yaml:"dir"`
	} `yaml:"workspace"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	switch c.Editor.Preview {
	case web.PreviewLua, web.PreviewRemote:
	default:
		return fmt.Errorf("editor.preview must be %q or %q, got %q", web.PreviewLua, web.PreviewRemote, c.Editor.Preview)
	}
	if a := c.Web.DefaultAuthority; a != "" && policy.ParseAuthority(a) == policy.AnonymousUser {
		return fmt.Errorf("web.default_authority: unknown authority %q", a)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// commitDelay returns editor.commit_delay, falling back to the default
// when it is not a positive duration.
func (c *Config) commitDelay(logger *slog.Logger) time.Duration {
	return parseDuration(c.Editor.CommitDelay, editor.DefaultCommitDelay, "editor.commit_delay", logger)
}

func (c *Config) scriptTimeout(logger *slog.Logger) time.Duration {
	return parseDuration(c.Editor.ScriptTimeout, preview.DefaultScriptTimeout, "editor.script_timeout", logger)
}

func parseDuration(s string, def time.Duration, key string, logger *slog.Logger) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration, using default", "key", key, "value", s, "default", def)
		return def
	}
	return d
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "widget-studio.db"
	}
	if cfg.Editor.Preview == "" {
		cfg.Editor.Preview = web.PreviewLua
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "widget-studio"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
