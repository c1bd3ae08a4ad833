// Package config provides YAML-based configuration loading for QuoteScout.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level QuoteScout configuration, loaded from quotescout.yaml.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Browserbase BrowserbaseConfig `yaml:"browserbase"`
	Agent       AgentConfig       `yaml:"agent"`
	Worker      WorkerConfig      `yaml:"worker"`
	Platforms   []PlatformConfig  `yaml:"platforms"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	CleanupGrace time.Duration `yaml:"cleanup_grace"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	AllowOrigin  string        `yaml:"allow_origin"`
}

// LogConfig selects the slog level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, auto
}

// BrowserbaseConfig holds credentials for the remote browser service.
// APIKey and ProjectID may be supplied through the environment instead.
type BrowserbaseConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	ProjectID string `yaml:"project_id"`
	Region    string `yaml:"region"`
}

// AgentConfig describes how to launch the autonomous browsing agent.
type AgentConfig struct {
	Command  []string          `yaml:"command"`
	Model    string            `yaml:"model"`
	MaxSteps int               `yaml:"max_steps"`
	Env      map[string]string `yaml:"env"`
}

// WorkerConfig bounds a single platform run.
type WorkerConfig struct {
	RunTimeout        time.Duration `yaml:"run_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	MaxLogMessage     int           `yaml:"max_log_message"`
}

// PlatformConfig defines one contractor marketplace to search.
type PlatformConfig struct {
	Name           string   `yaml:"name"`
	BaseURL        string   `yaml:"base_url"`
	StartURL       string   `yaml:"start_url"`
	AllowedDomains []string `yaml:"allowed_domains"`
}

// ArchiveConfig selects the database used for the search archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Driver        string        `yaml:"driver"` // sqlite, mysql
	DSN           string        `yaml:"dsn"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// NotifyConfig holds optional completion notification targets.
type NotifyConfig struct {
	Slack   ChatTarget `yaml:"slack"`
	Discord ChatTarget `yaml:"discord"`
}

// ChatTarget is a bot token plus the channel to post into.
type ChatTarget struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (t ChatTarget) Enabled() bool {
	return t.BotToken != "" && t.ChannelID != ""
}

// DefaultPlatforms are searched when the config lists none.
var DefaultPlatforms = []PlatformConfig{
	{
		Name:           "thumbtack",
		BaseURL:        "https://www.thumbtack.com",
		StartURL:       "https://www.thumbtack.com",
		AllowedDomains: []string{"thumbtack.com"},
	},
	{
		Name:           "angi",
		BaseURL:        "https://www.angi.com",
		StartURL:       "https://www.angi.com",
		AllowedDomains: []string{"angi.com"},
	},
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment so they stay out of the
// config file. Environment values win over file values.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("BROWSERBASE_API_KEY"); v != "" {
		c.Browserbase.APIKey = v
	}
	if v := getenv("BROWSERBASE_PROJECT_ID"); v != "" {
		c.Browserbase.ProjectID = v
	}
	if v := getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Notify.Slack.BotToken = v
	}
	if v := getenv("DISCORD_BOT_TOKEN"); v != "" {
		c.Notify.Discord.BotToken = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.CleanupGrace == 0 {
		c.Server.CleanupGrace = 5 * time.Minute
	}
	if c.Server.Heartbeat == 0 {
		c.Server.Heartbeat = 15 * time.Second
	}
	if c.Server.AllowOrigin == "" {
		c.Server.AllowOrigin = "*"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	if c.Browserbase.BaseURL == "" {
		c.Browserbase.BaseURL = "https://api.browserbase.com"
	}
	if len(c.Agent.Command) == 0 {
		c.Agent.Command = []string{"node", "agent/run.mjs"}
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 25
	}
	if c.Worker.RunTimeout == 0 {
		c.Worker.RunTimeout = 8 * time.Minute
	}
	if c.Worker.NavigationTimeout == 0 {
		c.Worker.NavigationTimeout = 30 * time.Second
	}
	if c.Worker.MaxLogMessage == 0 {
		c.Worker.MaxLogMessage = 200
	}
	if len(c.Platforms) == 0 {
		c.Platforms = append([]PlatformConfig(nil), DefaultPlatforms...)
	}
	for i := range c.Platforms {
		p := &c.Platforms[i]
		if p.StartURL == "" {
			p.StartURL = p.BaseURL
		}
		if len(p.AllowedDomains) == 0 {
			if u, err := url.Parse(p.BaseURL); err == nil && u.Hostname() != "" {
				p.AllowedDomains = []string{strings.TrimPrefix(u.Hostname(), "www.")}
			}
		}
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = "sqlite"
	}
	if c.Archive.DSN == "" && c.Archive.Driver == "sqlite" {
		c.Archive.DSN = "file:quotescout?mode=memory&cache=shared"
	}
	if c.Archive.Retention == 0 {
		c.Archive.Retention = 7 * 24 * time.Hour
	}
	if c.Archive.PruneSchedule == "" {
		c.Archive.PruneSchedule = "0 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Agent.MaxSteps < 0 {
		errs = append(errs, "agent.max_steps must be positive")
	}
	seen := make(map[string]bool)
	for i, p := range c.Platforms {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("platforms[%d].name is required", i))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("platforms[%d].name %q is duplicated", i, p.Name))
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("platforms[%d].base_url is required", i))
		}
	}
	switch c.Archive.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("archive.driver %q must be sqlite or mysql", c.Archive.Driver))
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		errs = append(errs, "archive.dsn is required for mysql")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Platform returns the platform config with the given name.
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	for _, p := range c.Platforms {
		if p.Name == name {
			return p, true
		}
	}
	return PlatformConfig{}, false
}
