// Package config provides YAML-based configuration loading for Crewlink.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Crewlink configuration, loaded from crewlink.yaml.
// The api section configures the client-side subsystem; the server section
// configures the reference chat server.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Server ServerConfig `yaml:"server"`
}

// APIConfig holds client-side settings for reaching the marketplace API.
type APIConfig struct {
	BaseURL     string `yaml:"base_url"`
	SessionFile string `yaml:"session_file"`
}

// ServerConfig holds settings for the reference chat server.
type ServerConfig struct {
	Port   int          `yaml:"port"`
	DB     DBConfig     `yaml:"db"`
	Digest DigestConfig `yaml:"digest"`
}

// DBConfig holds connection settings for the server's database. Driver is
// "sqlite" (Path) or "mysql" (Host/Port/Database/User/Password).
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DigestConfig controls the scheduled unread-message digest. Schedule is a
// standard 5-field cron expression; an empty schedule disables the job.
type DigestConfig struct {
	Schedule string        `yaml:"schedule"`
	MinAge   string        `yaml:"min_age"` // Go duration, e.g. "30m"
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds credentials for the Slack digest sink.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds credentials for the Discord digest sink.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
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
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8080"
	}
	if c.API.SessionFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.API.SessionFile = filepath.Join(home, ".crewlink", "session.yaml")
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.DB.Driver == "" {
		c.Server.DB.Driver = "sqlite"
	}
	if c.Server.DB.Driver == "sqlite" && c.Server.DB.Path == "" {
		c.Server.DB.Path = "crewlink.db"
	}
	if c.Server.DB.Driver == "mysql" {
		if c.Server.DB.Host == "" {
			c.Server.DB.Host = "127.0.0.1"
		}
		if c.Server.DB.Port == 0 {
			c.Server.DB.Port = 3306
		}
		if c.Server.DB.User == "" {
			c.Server.DB.User = "root"
		}
	}
	if c.Server.Digest.MinAge == "" {
		c.Server.Digest.MinAge = "30m"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Server.DB.Driver {
	case "sqlite":
	case "mysql":
		if c.Server.DB.Database == "" {
			errs = append(errs, "server.db.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("server.db.driver %q is not supported (sqlite, mysql)", c.Server.DB.Driver))
	}
	if c.Server.Digest.Schedule != "" {
		if c.Server.Digest.Slack.BotToken == "" && c.Server.Digest.Discord.BotToken == "" {
			errs = append(errs, "server.digest.schedule is set but no slack or discord sink is configured")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
